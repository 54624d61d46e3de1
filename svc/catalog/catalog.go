package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultDefinition []byte

type definition struct {
	DefaultProduct string       `yaml:"default_product"`
	Products       []productDef `yaml:"products"`
}

type productDef struct {
	Ref               string       `yaml:"ref"`
	Name              string       `yaml:"name"`
	SoftwareProductID string       `yaml:"software_product_id"`
	Currency          string       `yaml:"currency"`
	PayPalProduct     Environments `yaml:"paypal_product"`
	Software          *softwareDef `yaml:"software"`
	Plans             []planDef    `yaml:"plans"`
}

type softwareDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
	DownloadURL string `yaml:"download_url"`
}

type planDef struct {
	Name          string       `yaml:"name"`
	Aliases       []string     `yaml:"aliases"`
	PriceCents    int64        `yaml:"price_cents"`
	SoftwareLimit int64        `yaml:"software_limit"`
	StripePrice   string       `yaml:"stripe_price"`
	PayPalPlan    Environments `yaml:"paypal_plan"`
}

type product struct {
	ref           string
	name          string
	paypalProduct Environments
	plans         map[string]Plan // lower-cased plan name or alias
}

// Catalog is an immutable lookup table of products and plans.
// It is safe for concurrent use.
type Catalog struct {
	defaultProduct string
	products       map[string]*product
	byStripePrice  map[string]Plan
	byPayPalPlan   map[string]Plan
	software       map[string]Software // by processor product id
}

// Load parses a YAML catalog definition.
func Load(r io.Reader) (*Catalog, error) {
	var def definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, errors.Join(ErrInvalidDefinition, err)
	}
	return build(def)
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultDefinition))
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded definition: %v", err))
	}
	return c
}

func build(def definition) (*Catalog, error) {
	c := &Catalog{
		defaultProduct: def.DefaultProduct,
		products:       make(map[string]*product, len(def.Products)),
		byStripePrice:  make(map[string]Plan),
		byPayPalPlan:   make(map[string]Plan),
		software:       make(map[string]Software),
	}

	for _, pd := range def.Products {
		if pd.Ref == "" || strings.Contains(pd.Ref, "_") {
			return nil, fmt.Errorf("%w: invalid product ref %q", ErrInvalidDefinition, pd.Ref)
		}
		if _, dup := c.products[pd.Ref]; dup {
			return nil, fmt.Errorf("%w: duplicate product %q", ErrInvalidDefinition, pd.Ref)
		}

		p := &product{
			ref:           pd.Ref,
			name:          pd.Name,
			paypalProduct: pd.PayPalProduct,
			plans:         make(map[string]Plan),
		}

		for _, pl := range pd.Plans {
			if pl.Name == "" {
				return nil, fmt.Errorf("%w: product %q has a plan without name", ErrInvalidDefinition, pd.Ref)
			}
			plan := Plan{
				ID:                pd.Ref + "_" + pl.Name,
				ProductRef:        pd.Ref,
				ProductName:       pd.Name,
				SoftwareProductID: pd.SoftwareProductID,
				Name:              pl.Name,
				PriceCents:        pl.PriceCents,
				Currency:          pd.Currency,
				SoftwareLimit:     pl.SoftwareLimit,
				StripePriceID:     pl.StripePrice,
				PayPalPlanIDs:     pl.PayPalPlan,
			}
			for _, key := range append([]string{pl.Name}, pl.Aliases...) {
				key = strings.ToLower(key)
				if _, dup := p.plans[key]; dup {
					return nil, fmt.Errorf("%w: duplicate plan %q in product %q", ErrInvalidDefinition, key, pd.Ref)
				}
				p.plans[key] = plan
			}
			if plan.StripePriceID != "" {
				c.byStripePrice[plan.StripePriceID] = plan
			}
			for _, id := range []string{plan.PayPalPlanIDs.Sandbox, plan.PayPalPlanIDs.Live} {
				if id != "" {
					c.byPayPalPlan[id] = plan
				}
			}
		}
		c.products[pd.Ref] = p

		if pd.Software != nil {
			for _, id := range []string{pd.SoftwareProductID, pd.PayPalProduct.Sandbox, pd.PayPalProduct.Live} {
				if id != "" {
					c.software[id] = Software{
						Name:        pd.Software.Name,
						Description: pd.Software.Description,
						Icon:        pd.Software.Icon,
						DownloadURL: pd.Software.DownloadURL,
						ProductID:   id,
					}
				}
			}
		}
	}

	if _, ok := c.products[c.defaultProduct]; !ok {
		return nil, fmt.Errorf("%w: default product %q is not defined", ErrInvalidDefinition, c.defaultProduct)
	}

	return c, nil
}

// Resolve looks up a plan by its compound identifier. The plan segment is
// matched case-insensitively. Unknown products and plans fail with ErrUnknownPlan.
func (c *Catalog) Resolve(planID string) (Plan, error) {
	ref, err := ParsePlanRef(planID)
	if err != nil {
		return Plan{}, err
	}
	p, ok := c.products[ref.Product]
	if !ok {
		return Plan{}, fmt.Errorf("%w: product %q", ErrUnknownPlan, ref.Product)
	}
	plan, ok := p.plans[strings.ToLower(ref.Plan)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: plan %q of product %q", ErrUnknownPlan, ref.Plan, ref.Product)
	}
	return plan, nil
}

// SoftwareLimit returns the usage quota for a product and plan name.
// An unknown product falls back to the default product's table, and an
// unknown plan yields zero. It never fails.
func (c *Catalog) SoftwareLimit(productRef, planName string) int64 {
	p, ok := c.products[productRef]
	if !ok {
		p = c.products[c.defaultProduct]
	}
	return p.plans[strings.ToLower(planName)].SoftwareLimit
}

// LimitFor is SoftwareLimit for a compound plan identifier. Malformed
// identifiers yield zero.
func (c *Catalog) LimitFor(planID string) int64 {
	ref, err := ParsePlanRef(planID)
	if err != nil {
		return 0
	}
	return c.SoftwareLimit(ref.Product, ref.Plan)
}

// StripePrice returns the card processor price id for a plan.
func (c *Catalog) StripePrice(planID string) (string, error) {
	plan, err := c.Resolve(planID)
	if err != nil {
		return "", err
	}
	if plan.StripePriceID == "" {
		return "", fmt.Errorf("%w: %q is not sold through stripe", ErrUnknownPlan, planID)
	}
	return plan.StripePriceID, nil
}

// PayPalPlan returns the wallet processor plan id for the given environment.
func (c *Catalog) PayPalPlan(planID string, sandbox bool) (string, error) {
	plan, err := c.Resolve(planID)
	if err != nil {
		return "", err
	}
	id := plan.PayPalPlanIDs.Get(sandbox)
	if id == "" {
		return "", fmt.Errorf("%w: %q is not sold through paypal", ErrUnknownPlan, planID)
	}
	return id, nil
}

// PayPalProduct returns the wallet processor product id of the default product.
func (c *Catalog) PayPalProduct(sandbox bool) string {
	return c.products[c.defaultProduct].paypalProduct.Get(sandbox)
}

// PlanByStripePrice is the reverse of StripePrice.
func (c *Catalog) PlanByStripePrice(priceID string) (Plan, bool) {
	plan, ok := c.byStripePrice[priceID]
	return plan, ok
}

// PlanByPayPalPlan finds the plan for a sandbox or live wallet plan id.
func (c *Catalog) PlanByPayPalPlan(paypalPlanID string) (Plan, bool) {
	plan, ok := c.byPayPalPlan[paypalPlanID]
	return plan, ok
}

// DefaultProduct returns the display name and reference of the fallback product.
func (c *Catalog) DefaultProduct() (ref, name string) {
	p := c.products[c.defaultProduct]
	return p.ref, p.name
}

// Software returns the download entry for a processor product id, either
// the card processor product or a wallet processor product.
func (c *Catalog) Software(productID string) (Software, bool) {
	sw, ok := c.software[productID]
	return sw, ok
}
