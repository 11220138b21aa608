package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/coursepay-backend/internal/gateway"
	"github.com/angelmondragon/coursepay-backend/internal/poller"
	"github.com/angelmondragon/coursepay-backend/pkg/apiclient"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

type cliEnv struct {
	APIURL string `envconfig:"API_URL" default:"http://localhost:8080"`
	Token  string `envconfig:"TOKEN"`
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "paywatch"})
	_ = godotenv.Load()

	var env cliEnv
	if err := envconfig.Process("COURSEPAY", &env); err != nil {
		logg.Error(context.Background(), "failed to load environment", err)
		os.Exit(1)
	}

	redirect := flag.String("redirect", "", "redirect url returned by the gateway")
	ref := flag.String("ref", "", "payment reference (overrides -redirect)")
	apiURL := flag.String("api", env.APIURL, "api base url")
	token := flag.String("token", env.Token, "bearer token")
	attempts := flag.Int("attempts", poller.DefaultMaxAttempts, "maximum status queries")
	delay := flag.Duration("delay", poller.DefaultDelay, "wait between status queries")
	flag.Parse()

	os.Exit(runInterruptible(os.Stdout, runArgs{
		Reference:   referenceFrom(*ref, *redirect),
		APIURL:      *apiURL,
		Token:       *token,
		MaxAttempts: *attempts,
		Delay:       *delay,
	}))
}

// runInterruptible runs until the poll ends or the user presses Ctrl-C. The
// signal handler is released before the exit code is returned, since os.Exit
// skips deferred calls.
func runInterruptible(out io.Writer, args runArgs) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, out, args)
}

type runArgs struct {
	Reference   string
	APIURL      string
	Token       string
	MaxAttempts int
	Delay       time.Duration
}

func run(ctx context.Context, out io.Writer, args runArgs) int {
	client, err := apiclient.New(args.APIURL, nil)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return 2
	}
	p, err := poller.New(client, poller.Options{MaxAttempts: args.MaxAttempts, Delay: args.Delay})
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return 2
	}

	fmt.Fprintln(out, "Verifying payment...")
	outcome, err := p.Poll(ctx, poller.Request{Reference: args.Reference, Credential: args.Token})
	switch {
	case errors.Is(err, poller.ErrMissingReference):
		fmt.Fprintln(out, "error: no payment reference was provided")
		return 2
	case errors.Is(err, poller.ErrUnauthenticated):
		fmt.Fprintln(out, "error: please log in and try again")
		return 3
	case err != nil:
		fmt.Fprintf(out, "error: %v\n", err)
		return 1
	}
	return render(out, outcome)
}

// referenceFrom prefers an explicit reference and otherwise reads the
// external_reference query parameter from the redirect url.
func referenceFrom(ref, redirect string) string {
	if strings.TrimSpace(ref) != "" {
		return strings.TrimSpace(ref)
	}
	if redirect == "" {
		return ""
	}
	u, err := url.Parse(redirect)
	if err != nil {
		return ""
	}
	return u.Query().Get(gateway.ReferenceParam)
}

func render(out io.Writer, outcome *poller.Outcome) int {
	switch outcome.Kind {
	case poller.OutcomeConfirmed:
		fmt.Fprintln(out, "Payment confirmed!")
		if e := outcome.Enrollment; e != nil {
			fmt.Fprintf(out, "  Course:   %s\n", e.CourseName)
			fmt.Fprintf(out, "  Plan:     %s\n", e.PlanType)
			fmt.Fprintf(out, "  Access:   %s to %s\n", e.StartDate.Format(time.DateOnly), e.EndDate.Format(time.DateOnly))
			fmt.Fprintf(out, "  Paid:     %s %s\n", e.PriceSnapshot.StringFixed(2), e.Currency)
		}
		return 0
	case poller.OutcomeUnconfirmed:
		fmt.Fprintln(out, "Your payment is still being processed. Your enrollment will appear once the gateway confirms it.")
		return 0
	case poller.OutcomeRejected:
		msg := outcome.Message
		if msg == "" {
			msg = "payment was not approved"
		}
		fmt.Fprintf(out, "Payment %s: %s\n", outcome.Status, msg)
		fmt.Fprintln(out, "Browse the course catalog to try again.")
		return 1
	default:
		fmt.Fprintf(out, "error: %s\n", outcome.Message)
		fmt.Fprintln(out, "Browse the course catalog to try again.")
		return 1
	}
}
