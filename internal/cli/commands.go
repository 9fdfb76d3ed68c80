// Package cli implements the vitanips subcommands other than serve.
package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/vitanips/vitanips-core/internal/api"
	"github.com/vitanips/vitanips-core/internal/config"
	"github.com/vitanips/vitanips-core/internal/insurance"
	"github.com/vitanips/vitanips-core/internal/payments"
	"github.com/vitanips/vitanips-core/internal/rates"
)

var Version = "dev"

// HandleQuoteCommand runs `quote coverage|commission` and returns the exit code
func HandleQuoteCommand(args []string, out io.Writer) int {
	if len(args) == 0 {
		PrintQuoteHelp(out)
		return 2
	}

	switch args[0] {
	case "coverage":
		return quoteCoverage(args[1:], out)
	case "commission":
		return quoteCommission(args[1:], out)
	default:
		PrintQuoteHelp(out)
		return 2
	}
}

func quoteCoverage(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("quote coverage", flag.ContinueOnError)
	fs.SetOutput(out)
	plan := fs.String("plan", "", "Plan type (basic, standard, premium, family, hdhp)")
	service := fs.String("service", "", "Service type (consultation, telemedicine, medication, lab_test, procedure, emergency)")
	amount := fs.String("amount", "", "Total bill amount")
	deductible := fs.String("deductible-remaining", "", "Deductible still owed this year (default: the plan's full deductible)")
	limit := fs.String("limit-remaining", "", "Remaining annual limit (default: no limit)")
	ratesFile := fs.String("rates", "", "Path to a rate table YAML file")
	asJSON := fs.Bool("json", false, "Print JSON even on a terminal")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	book, err := loadBook(*ratesFile)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	req := insurance.Request{
		PlanType:    insurance.PlanType(*plan),
		ServiceType: insurance.ServiceType(*service),
	}
	if req.TotalAmount, err = decimal.NewFromString(*amount); err != nil {
		fmt.Fprintf(out, "Error: invalid --amount %q\n", *amount)
		return 2
	}
	if req.DeductibleRemaining, err = optionalDecimal(*deductible); err != nil {
		fmt.Fprintf(out, "Error: invalid --deductible-remaining: %v\n", err)
		return 2
	}
	if req.LimitRemaining, err = optionalDecimal(*limit); err != nil {
		fmt.Fprintf(out, "Error: invalid --limit-remaining: %v\n", err)
		return 2
	}

	res, err := insurance.NewCalculator(rates.NewStatic(book)).Calculate(req)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	if *asJSON || !isTerminal(out) {
		return printJSON(out, res)
	}
	printTable(out, [][2]string{
		{"Plan", string(res.PlanType)},
		{"Service", string(res.ServiceType)},
		{"Total", res.TotalAmount.StringFixed(2)},
		{"Coverage", res.CoveragePercent.String() + "%"},
		{"Deductible applied", res.DeductibleApplied.StringFixed(2)},
		{"Covered", res.CoveredAmount.StringFixed(2)},
		{"Patient copay", res.PatientCopay.StringFixed(2)},
		{"Limit reached", fmt.Sprint(res.LimitReached)},
	})
	return 0
}

func quoteCommission(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("quote commission", flag.ContinueOnError)
	fs.SetOutput(out)
	service := fs.String("service", "", "Service type (consultation, telemedicine, medication, lab_test, subscription)")
	gross := fs.String("gross", "", "Gross payment amount")
	ratesFile := fs.String("rates", "", "Path to a rate table YAML file")
	asJSON := fs.Bool("json", false, "Print JSON even on a terminal")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	book, err := loadBook(*ratesFile)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	amount, err := decimal.NewFromString(*gross)
	if err != nil {
		fmt.Fprintf(out, "Error: invalid --gross %q\n", *gross)
		return 2
	}

	res, err := payments.NewCommissionCalculator(rates.NewStatic(book)).Calculate(payments.Service(*service), amount)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	if *asJSON || !isTerminal(out) {
		return printJSON(out, res)
	}
	rows := [][2]string{
		{"Service", string(res.Service)},
		{"Gross", res.Gross.StringFixed(2)},
		{"Rate", res.Rate.Mul(decimal.NewFromInt(100)).String() + "%"},
		{"Commission", res.Commission.StringFixed(2)},
		{"Net to payee", res.Net.StringFixed(2)},
	}
	if res.ClampedBy != "" {
		rows = append(rows, [2]string{"Clamped by", res.ClampedBy})
	}
	printTable(out, rows)
	return 0
}

// HandleTokenCommand signs a bearer token with the configured secret
func HandleTokenCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	dataDir := fs.String("data", "", "Path to data directory")
	user := fs.String("user", "", "User ID to put in the token subject")
	role := fs.String("role", api.RolePatient, "Role: patient, doctor, pharmacy or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *user == "" {
		fmt.Fprintln(out, "Usage: vitanips token --user <id> [--role patient|doctor|pharmacy|admin] [--ttl 24h]")
		return 2
	}
	switch *role {
	case api.RolePatient, api.RoleDoctor, api.RolePharmacy, api.RoleAdmin:
	default:
		fmt.Fprintf(out, "Error: unknown role %q\n", *role)
		return 2
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		fmt.Fprintf(out, "Error loading config: %v\n", err)
		return 1
	}
	if cfg.Security.GeneratedSecret {
		fmt.Fprintln(out, "Error: no JWT secret configured; set security.jwt_secret or VITANIPS_JWT_SECRET")
		return 1
	}

	token, err := api.IssueToken(cfg.Security.JWTSecret, *user, *role, *ttl)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, token)
	return 0
}

// HandleConfigCommand prints configuration values
func HandleConfigCommand(args []string, out io.Writer) int {
	if len(args) == 0 {
		PrintConfigHelp(out)
		return 2
	}

	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Fprintf(out, "Error loading config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "get":
		if len(args) < 2 {
			fmt.Fprintln(out, "Usage: vitanips config get <key>")
			fmt.Fprintln(out, "Example: vitanips config get billing.currency")
			return 2
		}
		if !printConfigValue(out, cfg, args[1]) {
			return 1
		}
	case "show", "view":
		printTable(out, [][2]string{
			{"Address", cfg.Addr()},
			{"Data dir", cfg.Storage.DataDir},
			{"Currency", cfg.Billing.Currency},
			{"Rates file", orDefault(cfg.Billing.RatesFile, "(built-in)")},
			{"Gateway", cfg.Gateway.BaseURL},
			{"Gateway key", maskToken(cfg.Gateway.SecretKey)},
			{"Notifications", enabledLabel(cfg.Notify.Enabled)},
			{"Cron sweeps", enabledLabel(cfg.Cron.Enabled)},
		})
	default:
		PrintConfigHelp(out)
		return 2
	}
	return 0
}

func printConfigValue(out io.Writer, cfg *config.Config, key string) bool {
	switch key {
	case "server.port":
		fmt.Fprintln(out, cfg.Server.Port)
	case "server.address":
		fmt.Fprintln(out, cfg.Server.Address)
	case "storage.data_dir":
		fmt.Fprintln(out, cfg.Storage.DataDir)
	case "billing.currency":
		fmt.Fprintln(out, cfg.Billing.Currency)
	case "billing.rates_file":
		fmt.Fprintln(out, cfg.Billing.RatesFile)
	case "gateway.base_url":
		fmt.Fprintln(out, cfg.Gateway.BaseURL)
	case "gateway.secret_key":
		fmt.Fprintln(out, maskToken(cfg.Gateway.SecretKey))
	default:
		fmt.Fprintf(out, "Unknown key: %s\n", key)
		fmt.Fprintln(out, "Available keys: server.port, server.address, storage.data_dir, billing.currency, billing.rates_file, gateway.base_url, gateway.secret_key")
		return false
	}
	return true
}

func loadBook(path string) (*rates.Book, error) {
	if path == "" {
		return rates.Default(), nil
	}
	return rates.LoadFile(path)
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printJSON(out io.Writer, v interface{}) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printTable(out io.Writer, rows [][2]string) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
	}
	tw.Flush()
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
