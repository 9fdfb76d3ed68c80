// Package rates holds the coverage, commission and subscription price tables
// that drive billing. Tables ship with compiled-in defaults and can be
// replaced at runtime from a YAML file.
package rates

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

// Subscription billing periods
const (
	PeriodMonthly = "monthly"
	PeriodAnnual  = "annual"
)

// CommissionRate is the platform cut for one service type.
// A zero Max means uncapped.
type CommissionRate struct {
	Rate decimal.Decimal
	Min  decimal.Decimal
	Max  decimal.Decimal
}

// PlanPrice is the price of a subscription plan for one billing period
type PlanPrice struct {
	Price  decimal.Decimal
	Period string
}

// Book is an immutable snapshot of every billing table
type Book struct {
	// plan type -> service type -> percent covered (0-100)
	Coverage    map[string]map[string]decimal.Decimal
	Deductibles map[string]decimal.Decimal
	Commission  map[string]CommissionRate
	Plans       map[string]PlanPrice
}

// Provider hands out the current rate book
type Provider interface {
	Current() *Book
}

// Static is a Provider that never changes
type Static struct {
	book *Book
}

func NewStatic(b *Book) *Static {
	return &Static{book: b}
}

func (s *Static) Current() *Book {
	return s.book
}

// Holder is a Provider whose book can be swapped atomically
type Holder struct {
	book atomic.Pointer[Book]
}

func NewHolder(b *Book) *Holder {
	h := &Holder{}
	h.book.Store(b)
	return h
}

func (h *Holder) Current() *Book {
	return h.book.Load()
}

func (h *Holder) Swap(b *Book) {
	h.book.Store(b)
}

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default returns the built-in tables
func Default() *Book {
	return &Book{
		Coverage: map[string]map[string]decimal.Decimal{
			"basic": {
				"consultation": pct(60), "telemedicine": pct(60), "medication": pct(50),
				"lab_test": pct(50), "procedure": pct(40), "emergency": pct(70),
			},
			"standard": {
				"consultation": pct(80), "telemedicine": pct(80), "medication": pct(70),
				"lab_test": pct(70), "procedure": pct(60), "emergency": pct(90),
			},
			"premium": {
				"consultation": pct(90), "telemedicine": pct(90), "medication": pct(85),
				"lab_test": pct(85), "procedure": pct(80), "emergency": pct(100),
			},
			"family": {
				"consultation": pct(80), "telemedicine": pct(80), "medication": pct(75),
				"lab_test": pct(70), "procedure": pct(60), "emergency": pct(90),
			},
			"hdhp": {
				"consultation": pct(80), "telemedicine": pct(80), "medication": pct(80),
				"lab_test": pct(80), "procedure": pct(80), "emergency": pct(90),
			},
		},
		Deductibles: map[string]decimal.Decimal{
			"hdhp": money("50000.00"),
		},
		Commission: map[string]CommissionRate{
			"consultation": {Rate: money("0.15"), Min: money("500.00"), Max: money("10000.00")},
			"telemedicine": {Rate: money("0.15"), Min: money("500.00"), Max: money("10000.00")},
			"medication":   {Rate: money("0.10"), Min: money("200.00"), Max: money("5000.00")},
			"lab_test":     {Rate: money("0.12"), Min: money("300.00"), Max: money("7500.00")},
			"subscription": {Rate: money("1.00"), Min: decimal.Zero, Max: decimal.Zero},
		},
		Plans: map[string]PlanPrice{
			"basic_monthly":   {Price: money("2500.00"), Period: PeriodMonthly},
			"premium_monthly": {Price: money("5000.00"), Period: PeriodMonthly},
			"premium_annual":  {Price: money("50000.00"), Period: PeriodAnnual},
		},
	}
}

// Validate checks every table for out-of-range values
func (b *Book) Validate() error {
	hundred := decimal.NewFromInt(100)
	for plan, services := range b.Coverage {
		if len(services) == 0 {
			return apperrors.With(apperrors.ErrRatesInvalid, "plan %s has no services", plan)
		}
		for svc, p := range services {
			if p.IsNegative() || p.GreaterThan(hundred) {
				return apperrors.With(apperrors.ErrRatesInvalid, "coverage %s/%s out of range: %s", plan, svc, p)
			}
		}
	}
	for plan, d := range b.Deductibles {
		if d.IsNegative() {
			return apperrors.With(apperrors.ErrRatesInvalid, "deductible for %s is negative", plan)
		}
		if _, ok := b.Coverage[plan]; !ok {
			return apperrors.With(apperrors.ErrRatesInvalid, "deductible for unknown plan %s", plan)
		}
	}
	for svc, c := range b.Commission {
		if c.Rate.IsNegative() || c.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return apperrors.With(apperrors.ErrRatesInvalid, "commission rate for %s out of range", svc)
		}
		if c.Min.IsNegative() || c.Max.IsNegative() {
			return apperrors.With(apperrors.ErrRatesInvalid, "commission bounds for %s are negative", svc)
		}
		if c.Max.IsPositive() && c.Min.GreaterThan(c.Max) {
			return apperrors.With(apperrors.ErrRatesInvalid, "commission min above max for %s", svc)
		}
	}
	for name, p := range b.Plans {
		if !p.Price.IsPositive() {
			return apperrors.With(apperrors.ErrRatesInvalid, "plan %s must have a positive price", name)
		}
		if p.Period != PeriodMonthly && p.Period != PeriodAnnual {
			return apperrors.With(apperrors.ErrRatesInvalid, "plan %s has unknown period %q", name, p.Period)
		}
	}
	return nil
}

// PlanTypes lists the insurance plan types in the book, sorted
func (b *Book) PlanTypes() []string {
	out := make([]string, 0, len(b.Coverage))
	for k := range b.Coverage {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type yamlDecimal struct {
	decimal.Decimal
}

func (d *yamlDecimal) UnmarshalYAML(value *yaml.Node) error {
	v, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	d.Decimal = v
	return nil
}

type fileCommission struct {
	Rate yamlDecimal `yaml:"rate"`
	Min  yamlDecimal `yaml:"min"`
	Max  yamlDecimal `yaml:"max"`
}

type filePlan struct {
	Price  yamlDecimal `yaml:"price"`
	Period string      `yaml:"period"`
}

type fileBook struct {
	Coverage    map[string]map[string]yamlDecimal `yaml:"coverage"`
	Deductibles map[string]yamlDecimal            `yaml:"deductibles"`
	Commission  map[string]fileCommission         `yaml:"commission"`
	Plans       map[string]filePlan               `yaml:"subscription_plans"`
}

// Parse decodes a YAML rate file. Sections missing from the file keep
// their default values.
func Parse(data []byte) (*Book, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperrors.With(apperrors.ErrRatesInvalid, "rate file is empty")
	}

	var fb fileBook
	if err := yaml.Unmarshal(data, &fb); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrRatesInvalid.Code, "failed to parse rate file")
	}

	book := Default()
	if fb.Coverage != nil {
		book.Coverage = make(map[string]map[string]decimal.Decimal, len(fb.Coverage))
		for plan, services := range fb.Coverage {
			m := make(map[string]decimal.Decimal, len(services))
			for svc, p := range services {
				m[svc] = p.Decimal
			}
			book.Coverage[plan] = m
		}
	}
	if fb.Deductibles != nil {
		book.Deductibles = make(map[string]decimal.Decimal, len(fb.Deductibles))
		for plan, d := range fb.Deductibles {
			book.Deductibles[plan] = d.Decimal
		}
	}
	if fb.Commission != nil {
		book.Commission = make(map[string]CommissionRate, len(fb.Commission))
		for svc, c := range fb.Commission {
			book.Commission[svc] = CommissionRate{Rate: c.Rate.Decimal, Min: c.Min.Decimal, Max: c.Max.Decimal}
		}
	}
	if fb.Plans != nil {
		book.Plans = make(map[string]PlanPrice, len(fb.Plans))
		for name, p := range fb.Plans {
			book.Plans[name] = PlanPrice{Price: p.Price.Decimal, Period: p.Period}
		}
	}

	if err := book.Validate(); err != nil {
		return nil, err
	}
	return book, nil
}

// LoadFile reads and parses a YAML rate file
func LoadFile(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate file: %w", err)
	}
	return Parse(data)
}
