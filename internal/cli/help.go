package cli

import (
	"fmt"
	"io"
)

func PrintExtendedHelp(out io.Writer) {
	fmt.Fprintf(out, `VitaNips core %s

Usage: vitanips [command] [flags]

Commands:
  serve                 Run the HTTP API and background workers (default)
  quote coverage        Split a bill between insurer and patient
  quote commission      Split a payment between platform and payee
  token                 Issue an API bearer token
  seed                  Load doctors, pharmacies and policies from YAML
  config get|show       Print configuration
  version               Print the version
`, Version)
}

func PrintQuoteHelp(out io.Writer) {
	fmt.Fprintln(out, `Usage: vitanips quote <coverage|commission> [flags]

Examples:
  vitanips quote coverage --plan hdhp --service medication --amount 13500 --deductible-remaining 5000
  vitanips quote commission --service consultation --gross 20000

Output is a table on a terminal and JSON otherwise; --json forces JSON.`)
}

func PrintConfigHelp(out io.Writer) {
	fmt.Fprintln(out, `Usage: vitanips config <command>

Commands:
  get <key>    Print one value
  show         Print a summary of the effective configuration`)
}

func PrintSeedHelp(out io.Writer) {
	fmt.Fprintln(out, `Usage: vitanips seed --file <seed.yaml> [--config path] [--data dir] [--rates path]

The file holds three optional lists:

  doctors:
    - name: Dr. Ada Obi
      specialty: general
      consultation_fee: "15000"
      follow_up_fee: "7500"
      free_follow_up_days: 7
  pharmacies:
    - name: HealthPlus Yaba
      latitude: 6.5095
      longitude: 3.3711
      offers_delivery: true
      inventory:
        - {medication: Amoxicillin 500mg, price: "2500", quantity: 40}
  policies:
    - patient_id: patient-1
      plan_type: standard
      start_date: 2026-01-01
      end_date: 2027-01-01
      annual_limit: "500000"

Everything is inserted in one transaction.`)
}
