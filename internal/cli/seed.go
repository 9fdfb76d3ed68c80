package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vitanips/vitanips-core/internal/config"
	"github.com/vitanips/vitanips-core/internal/money"
	"github.com/vitanips/vitanips-core/internal/rates"
	"github.com/vitanips/vitanips-core/internal/store"
)

// SeedFile is the fixture format read by `vitanips seed`
type SeedFile struct {
	Doctors    []seedDoctor   `yaml:"doctors"`
	Pharmacies []seedPharmacy `yaml:"pharmacies"`
	Policies   []seedPolicy   `yaml:"policies"`
}

type seedAmount struct {
	decimal.Decimal
}

func (a *seedAmount) UnmarshalYAML(value *yaml.Node) error {
	d, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("line %d: negative amount %s", value.Line, value.Value)
	}
	a.Decimal = money.Quantize(d)
	return nil
}

type seedDoctor struct {
	ID               string     `yaml:"id"`
	Name             string     `yaml:"name"`
	Specialty        string     `yaml:"specialty"`
	ConsultationFee  seedAmount `yaml:"consultation_fee"`
	FollowUpFee      seedAmount `yaml:"follow_up_fee"`
	FreeFollowUpDays int        `yaml:"free_follow_up_days"`
}

type seedStock struct {
	Medication string     `yaml:"medication"`
	Price      seedAmount `yaml:"price"`
	Quantity   int        `yaml:"quantity"`
}

type seedPharmacy struct {
	ID             string      `yaml:"id"`
	Name           string      `yaml:"name"`
	Address        string      `yaml:"address"`
	Latitude       float64     `yaml:"latitude"`
	Longitude      float64     `yaml:"longitude"`
	OffersDelivery bool        `yaml:"offers_delivery"`
	Inactive       bool        `yaml:"inactive"`
	Inventory      []seedStock `yaml:"inventory"`
}

type seedPolicy struct {
	ID           string     `yaml:"id"`
	PatientID    string     `yaml:"patient_id"`
	PolicyNumber string     `yaml:"policy_number"`
	PlanType     string     `yaml:"plan_type"`
	StartDate    time.Time  `yaml:"start_date"`
	EndDate      time.Time  `yaml:"end_date"`
	AnnualLimit  seedAmount `yaml:"annual_limit"`
}

// SeedCounts reports what a seed run inserted
type SeedCounts struct {
	Doctors    int
	Pharmacies int
	Inventory  int
	Policies   int
}

// ParseSeedFile decodes fixtures and checks them against the rate book
func ParseSeedFile(data []byte, book *rates.Book) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, d := range f.Doctors {
		if d.Name == "" {
			return nil, fmt.Errorf("doctors[%d]: name is required", i)
		}
	}
	for i, p := range f.Pharmacies {
		if p.Name == "" {
			return nil, fmt.Errorf("pharmacies[%d]: name is required", i)
		}
		if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
			return nil, fmt.Errorf("pharmacies[%d]: coordinates out of range", i)
		}
		for j, s := range p.Inventory {
			if s.Medication == "" || s.Quantity < 0 {
				return nil, fmt.Errorf("pharmacies[%d].inventory[%d]: medication and a non-negative quantity are required", i, j)
			}
		}
	}
	for i, p := range f.Policies {
		if p.PatientID == "" {
			return nil, fmt.Errorf("policies[%d]: patient_id is required", i)
		}
		if _, ok := book.Coverage[p.PlanType]; !ok {
			return nil, fmt.Errorf("policies[%d]: unknown plan type %q", i, p.PlanType)
		}
		if !p.EndDate.After(p.StartDate) {
			return nil, fmt.Errorf("policies[%d]: end_date must be after start_date", i)
		}
	}
	return &f, nil
}

// Seed inserts the fixtures in one transaction
func Seed(ctx context.Context, st *store.Store, f *SeedFile) (SeedCounts, error) {
	var counts SeedCounts
	err := st.Transaction(ctx, func(tx *store.Store) error {
		for _, d := range f.Doctors {
			if err := tx.CreateDoctor(&store.Doctor{
				ID:               d.ID,
				Name:             d.Name,
				Specialty:        d.Specialty,
				ConsultationFee:  d.ConsultationFee.Decimal,
				FollowUpFee:      d.FollowUpFee.Decimal,
				FreeFollowUpDays: d.FreeFollowUpDays,
			}); err != nil {
				return fmt.Errorf("doctor %q: %w", d.Name, err)
			}
			counts.Doctors++
		}

		for _, p := range f.Pharmacies {
			ph := &store.Pharmacy{
				ID:             p.ID,
				Name:           p.Name,
				Address:        p.Address,
				Latitude:       p.Latitude,
				Longitude:      p.Longitude,
				OffersDelivery: p.OffersDelivery,
				Active:         !p.Inactive,
			}
			if err := tx.CreatePharmacy(ph); err != nil {
				return fmt.Errorf("pharmacy %q: %w", p.Name, err)
			}
			for _, s := range p.Inventory {
				if err := tx.SaveInventoryItem(&store.InventoryItem{
					PharmacyID:     ph.ID,
					MedicationName: s.Medication,
					Price:          s.Price.Decimal,
					Quantity:       s.Quantity,
				}); err != nil {
					return fmt.Errorf("pharmacy %q stock %q: %w", p.Name, s.Medication, err)
				}
				counts.Inventory++
			}
			counts.Pharmacies++
		}

		for _, p := range f.Policies {
			number := p.PolicyNumber
			if number == "" {
				number = "POL-" + strings.ToUpper(uuid.NewString()[:8])
			}
			if err := tx.CreatePolicy(&store.InsurancePolicy{
				ID:            p.ID,
				PatientID:     p.PatientID,
				PolicyNumber:  number,
				PlanType:      p.PlanType,
				Active:        true,
				StartDate:     p.StartDate,
				EndDate:       p.EndDate,
				DeductibleMet: decimal.Zero,
				AnnualLimit:   p.AnnualLimit.Decimal,
				LimitUsed:     decimal.Zero,
			}); err != nil {
				return fmt.Errorf("policy for %q: %w", p.PatientID, err)
			}
			counts.Policies++
		}
		return nil
	})
	if err != nil {
		return SeedCounts{}, err
	}
	return counts, nil
}

// HandleSeedCommand loads doctors, pharmacies and policies from a YAML file
func HandleSeedCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	dataDir := fs.String("data", "", "Path to data directory")
	file := fs.String("file", "", "Seed file (YAML)")
	ratesPath := fs.String("rates", "", "Rate book used to check plan types")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		PrintSeedHelp(out)
		return 2
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	book, err := loadBook(*ratesPath)
	if err != nil {
		fmt.Fprintf(out, "Error loading rates: %v\n", err)
		return 1
	}
	f, err := ParseSeedFile(data, book)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		fmt.Fprintf(out, "Error loading config: %v\n", err)
		return 1
	}
	st, err := store.New(cfg)
	if err != nil {
		fmt.Fprintf(out, "Error opening store: %v\n", err)
		return 1
	}
	defer st.Close()

	counts, err := Seed(context.Background(), st, f)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Seeded %d doctors, %d pharmacies (%d stock entries), %d policies\n",
		counts.Doctors, counts.Pharmacies, counts.Inventory, counts.Policies)
	return 0
}
