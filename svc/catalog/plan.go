package catalog

import (
	"fmt"
	"strings"
)

// PlanRef is a parsed plan identifier of the form "<product>_<plan>".
type PlanRef struct {
	Product string
	Plan    string
}

// String returns the identifier in its compound form.
func (r PlanRef) String() string {
	return r.Product + "_" + r.Plan
}

// ParsePlanRef splits a plan identifier on the first underscore.
// Everything after it is the plan name, so "prod1_basic_asia" yields
// product "prod1" and plan "basic_asia".
func ParsePlanRef(id string) (PlanRef, error) {
	product, plan, ok := strings.Cut(strings.TrimSpace(id), "_")
	if !ok || product == "" || plan == "" {
		return PlanRef{}, fmt.Errorf("%w: malformed plan identifier %q", ErrUnknownPlan, id)
	}
	return PlanRef{Product: product, Plan: plan}, nil
}

// Environments holds a value per processor environment.
type Environments struct {
	Sandbox string `yaml:"sandbox"`
	Live    string `yaml:"live"`
}

// Get returns the sandbox or live value.
func (e Environments) Get(sandbox bool) string {
	if sandbox {
		return e.Sandbox
	}
	return e.Live
}

// Plan is a fully resolved catalog entry.
type Plan struct {
	ID                string // canonical "<product>_<plan>"
	ProductRef        string
	ProductName       string
	SoftwareProductID string
	Name              string
	PriceCents        int64
	Currency          string
	SoftwareLimit     int64
	StripePriceID     string
	PayPalPlanIDs     Environments
}

// DisplayName is the product name shown to customers, e.g. "Omni Lead Pro - basic".
func (p Plan) DisplayName() string {
	return p.ProductName + " - " + p.Name
}

// Price formats the plan price in major units.
func (p Plan) Price() string {
	return fmt.Sprintf("%d.%02d", p.PriceCents/100, p.PriceCents%100)
}

// Software is the downloadable application a product grants access to.
// The JSON names are the ones the dashboard front end reads.
type Software struct {
	Name        string `json:"software name"`
	Description string `json:"software description"`
	Icon        string `json:"software icon,omitempty"`
	DownloadURL string `json:"software drive link,omitempty"`
	ProductID   string `json:"product_id"`
}
