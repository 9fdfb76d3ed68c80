package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitanips/vitanips-core/internal/config"
	"github.com/vitanips/vitanips-core/internal/rates"
	"github.com/vitanips/vitanips-core/internal/store"
)

const seedYAML = `
doctors:
  - id: doc-1
    name: Dr. Ada Obi
    specialty: general
    consultation_fee: "15000"
    follow_up_fee: "7500"
    free_follow_up_days: 7
pharmacies:
  - id: ph-1
    name: HealthPlus Yaba
    latitude: 6.5095
    longitude: 3.3711
    offers_delivery: true
    inventory:
      - {medication: Amoxicillin 500mg, price: "2500", quantity: 40}
      - {medication: Paracetamol 500mg, price: "300.5", quantity: 100}
policies:
  - id: pol-1
    patient_id: patient-1
    plan_type: standard
    start_date: 2026-01-01
    end_date: 2027-01-01
    annual_limit: "500000"
`

func TestSeed(t *testing.T) {
	f, err := ParseSeedFile([]byte(seedYAML), rates.Default())
	require.NoError(t, err)

	st, err := store.New(config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	counts, err := Seed(context.Background(), st, f)
	require.NoError(t, err)
	assert.Equal(t, SeedCounts{Doctors: 1, Pharmacies: 1, Inventory: 2, Policies: 1}, counts)

	doc, err := st.GetDoctor("doc-1")
	require.NoError(t, err)
	assert.True(t, doc.ConsultationFee.Equal(decimal.NewFromInt(15000)))

	ph, err := st.GetPharmacy("ph-1")
	require.NoError(t, err)
	assert.True(t, ph.Active)
	require.Len(t, ph.Inventory, 2)

	pol, err := st.ActivePolicy("patient-1", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, pol)
	assert.Equal(t, "pol-1", pol.ID)
	assert.Regexp(t, `^POL-[0-9A-F]{8}$`, pol.PolicyNumber)
}

func TestSeed_RollsBackOnDuplicate(t *testing.T) {
	f, err := ParseSeedFile([]byte(seedYAML), rates.Default())
	require.NoError(t, err)
	f.Pharmacies = append(f.Pharmacies, f.Pharmacies[0])

	st, err := store.New(config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = Seed(context.Background(), st, f)
	require.Error(t, err)

	_, err = st.GetDoctor("doc-1")
	assert.Error(t, err)
}

func TestParseSeedFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative fee", "doctors:\n  - name: A\n    consultation_fee: \"-1\"\n", "negative amount"},
		{"unknown plan", "policies:\n  - patient_id: p\n    plan_type: gold\n    start_date: 2026-01-01\n    end_date: 2027-01-01\n", "unknown plan type"},
		{"inverted dates", "policies:\n  - patient_id: p\n    plan_type: basic\n    start_date: 2027-01-01\n    end_date: 2026-01-01\n", "end_date"},
		{"bad latitude", "pharmacies:\n  - name: X\n    latitude: 91\n", "coordinates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeedFile([]byte(tt.yaml), rates.Default())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHandleSeedCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, HandleSeedCommand(nil, &out))
	assert.Contains(t, out.String(), "Usage: vitanips seed")

	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pharmacies:\n  - name: X\n    latitude: 91\n"), 0644))

	out.Reset()
	assert.Equal(t, 1, HandleSeedCommand([]string{"--file", path, "--data", dir}, &out))
	assert.Contains(t, out.String(), "coordinates out of range")
}
