package payments

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// MinimumCredits is the smallest custom purchase.
const MinimumCredits = 5

// ErrInvalidCredits is returned for custom purchases below MinimumCredits.
var ErrInvalidCredits = fmt.Errorf("credit amount must be at least %d", MinimumCredits)

// ErrUnknownPackage is returned for a pack id missing from the catalog.
var ErrUnknownPackage = errors.New("unknown credit package")

// Package is a fixed credit bundle sold through card checkout
type Package struct {
	Id      string          `yaml:"id" json:"id"`
	Label   string          `yaml:"label" json:"label"`
	Credits int64           `yaml:"credits" json:"credits"`
	Price   string          `yaml:"price" json:"-"`
	Amount  decimal.Decimal `yaml:"-" json:"price"`
}

// UnitAmount is the price in minor currency units.
func (p Package) UnitAmount() int64 {
	return p.Amount.Shift(2).Round(0).IntPart()
}

type PackagesConfig struct {
	Packages []Package `yaml:"packages"`
}

// Catalog is the validated package table
type Catalog struct {
	packages []Package
	byId     map[string]Package
}

func LoadPackages(packagesFile string) (*Catalog, error) {
	var packagesPath string
	if filepath.IsAbs(packagesFile) {
		packagesPath = packagesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		packagesPath = filepath.Join(wd, packagesFile)
	}

	data, err := os.ReadFile(packagesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", packagesFile, err)
	}

	return ParsePackages(data)
}

func ParsePackages(data []byte) (*Catalog, error) {
	var config PackagesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse packages: %w", err)
	}
	return NewCatalog(config.Packages)
}

func NewCatalog(packages []Package) (*Catalog, error) {
	catalog := &Catalog{byId: make(map[string]Package, len(packages))}

	for i, pkg := range packages {
		if pkg.Id == "" {
			return nil, fmt.Errorf("package at index %d missing id", i)
		}
		if _, dup := catalog.byId[pkg.Id]; dup {
			return nil, fmt.Errorf("duplicate package id %s", pkg.Id)
		}
		if pkg.Credits <= 0 {
			return nil, fmt.Errorf("package %s must grant a positive number of credits", pkg.Id)
		}
		if pkg.Amount.IsZero() {
			amount, err := decimal.NewFromString(pkg.Price)
			if err != nil {
				return nil, fmt.Errorf("package %s has invalid price %q: %w", pkg.Id, pkg.Price, err)
			}
			pkg.Amount = amount
		}
		if !pkg.Amount.IsPositive() {
			return nil, fmt.Errorf("package %s must have a positive price", pkg.Id)
		}
		if pkg.Label == "" {
			pkg.Label = fmt.Sprintf("%d credits", pkg.Credits)
		}
		catalog.packages = append(catalog.packages, pkg)
		catalog.byId[pkg.Id] = pkg
	}

	return catalog, nil
}

func (c *Catalog) Lookup(id string) (Package, bool) {
	pkg, ok := c.byId[id]
	return pkg, ok
}

// All returns the packages in file order.
func (c *Catalog) All() []Package {
	out := make([]Package, len(c.packages))
	copy(out, c.packages)
	return out
}

// Quote prices a custom purchase
type Quote struct {
	Credits   int64           `json:"credits"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

var (
	mediumTierDiscount = decimal.RequireFromString("0.9")
	largeTierDiscount  = decimal.RequireFromString("0.8")
)

// NewQuote applies the volume tiers to basePrice: 10% off from 120 credits and
// a further 20% off from 300, each step rounded down to cents.
func NewQuote(credits int64, basePrice decimal.Decimal) (Quote, error) {
	if credits < MinimumCredits {
		return Quote{}, ErrInvalidCredits
	}
	unit := basePrice
	if credits >= 120 {
		unit = unit.Mul(mediumTierDiscount).RoundFloor(2)
	}
	if credits >= 300 {
		unit = unit.Mul(largeTierDiscount).RoundFloor(2)
	}
	return Quote{
		Credits:   credits,
		UnitPrice: unit,
		Total:     unit.Mul(decimal.NewFromInt(credits)),
	}, nil
}
