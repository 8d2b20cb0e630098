package bench

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dEdit/cmd/util"
	"github.com/ValentinKolb/dEdit/lib/lockmgr"
	"github.com/ValentinKolb/dEdit/rpc/client"
	"github.com/ValentinKolb/dEdit/rpc/transport"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// BenchCmd measures connect and hand-over latencies against a running server
	BenchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Performance testing tool for dEdit servers",
		Long: `Every worker owns one document and two sessions that steal the lock from each other.
Without a flush webhook on the server every hand-over waits for the full cleanup window.`,
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchDocuments = 10
	benchRounds    = 10
	benchPrefix    = "__bench"
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags
	util.SetupRPCClientFlags(BenchCmd)

	key := "documents"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of documents, each handled by its own pair of sessions"))
	key = "rounds"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of hand-overs per document"))
	key = "prefix"
	BenchCmd.Flags().String(key, "__bench", util.WrapString("Prefix of the document ids used by the benchmark"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchDocuments = viper.GetInt("documents")
	benchRounds = viper.GetInt("rounds")
	benchPrefix = viper.GetString("prefix")
	if benchDocuments <= 0 || benchRounds <= 0 {
		return fmt.Errorf("documents and rounds must be positive")
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	if err := util.InitLogging(); err != nil {
		return err
	}

	config := util.GetClientConfig()
	if config.Membership == "" {
		config.Membership = "bench"
	}

	fmt.Println("Performance testing tool for dEdit servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Documents: %d\nRounds: %d\n", benchDocuments, benchRounds)
	fmt.Println()

	fmt.Println("starting tests...")

	b := newBenchmark(func(membership string) (*client.EditClient, error) {
		c := *config
		c.Membership = membership
		s, err := util.GetSerializer()
		if err != nil {
			return nil, err
		}
		t, err := util.GetTransport()
		if err != nil {
			return nil, err
		}
		return client.NewEditClient(c, t, s)
	}, config.Membership)

	b.run(cmd.Context(), benchDocuments, benchRounds)
	b.print(cmd.OutOrStdout())
	return nil
}

// --------------------------------------------------------------------------
// Benchmark
// --------------------------------------------------------------------------

type dialFunc func(membership string) (*client.EditClient, error)

type benchmark struct {
	dial       dialFunc
	membership string
	registry   metrics.Registry
	connect    metrics.Timer
	handover   metrics.Timer
	errors     metrics.Counter
}

func newBenchmark(dial dialFunc, membership string) *benchmark {
	r := metrics.NewRegistry()
	return &benchmark{
		dial:       dial,
		membership: membership,
		registry:   r,
		connect:    metrics.GetOrRegisterTimer("connect", r),
		handover:   metrics.GetOrRegisterTimer("handover", r),
		errors:     metrics.GetOrRegisterCounter("errors", r),
	}
}

// run starts one worker per document and waits for all of them
func (b *benchmark) run(ctx context.Context, documents, rounds int) {
	wg := sync.WaitGroup{}
	for i := 0; i < documents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := b.worker(ctx, fmt.Sprintf("%s-%d", benchPrefix, i), i, rounds); err != nil {
				b.errors.Inc(1)
				client.Logger.Warningf("(%s-%d) - %v", benchPrefix, i, err)
			}
		}(i)
	}
	wg.Wait()
}

// worker connects two sessions to documentID and lets them steal the lock
// from each other
func (b *benchmark) worker(ctx context.Context, documentID string, id, rounds int) error {
	sessions := make([]*client.EditClient, 2)
	for i := range sessions {
		c, err := b.dial(fmt.Sprintf("%s-%d-%d", b.membership, id, i))
		if err != nil {
			return err
		}
		defer c.Close()

		start := time.Now()
		if _, err = c.RequestEdit(ctx, documentID); err != nil {
			return err
		}
		b.connect.UpdateSince(start)
		sessions[i] = c
	}

	holder, requester := sessions[0], sessions[1]
	for round := 0; round < rounds; round++ {
		if err := b.steal(ctx, holder, requester); err != nil {
			b.errors.Inc(1)
			return fmt.Errorf("round %d: %w", round, err)
		}
		holder, requester = requester, holder
	}
	return nil
}

// steal hands the lock from holder to requester and records the duration
// until the requester is notified
func (b *benchmark) steal(ctx context.Context, holder, requester *client.EditClient) error {
	start := time.Now()
	if _, err := requester.RequestSteal(ctx); err != nil {
		return err
	}
	if _, err := waitFor(ctx, holder, func(ev lockmgr.Event) bool {
		return ev.Kind == lockmgr.EventStealRequested
	}); err != nil {
		return err
	}
	if err := holder.AcceptSteal(ctx); err != nil {
		return err
	}

	membership := requester.Membership()
	if _, err := waitFor(ctx, requester, func(ev lockmgr.Event) bool {
		return ev.Kind == lockmgr.EventLockAcquired && ev.HolderMembershipID == membership
	}); err != nil {
		return err
	}
	b.handover.UpdateSince(start)
	return nil
}

// waitFor consumes events of c until match returns true
func waitFor(ctx context.Context, c *client.EditClient, match func(ev lockmgr.Event) bool) (lockmgr.Event, error) {
	// the coordinator bounds every hand-over, the limit only guards against a lost event
	timeout := time.NewTimer(time.Minute)
	defer timeout.Stop()

	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return lockmgr.Event{}, transport.ErrClosed
			}
			if ev.Kind == lockmgr.EventError {
				return ev, fmt.Errorf("%s: %s", ev.Code, ev.Msg)
			}
			if match(ev) {
				return ev, nil
			}
		case <-timeout.C:
			return lockmgr.Event{}, fmt.Errorf("no matching event within a minute")
		case <-ctx.Done():
			return lockmgr.Event{}, ctx.Err()
		}
	}
}

// print writes the percentiles of all timers
func (b *benchmark) print(w io.Writer) {
	names := make([]string, 0)
	timers := make(map[string]metrics.Timer)
	b.registry.Each(func(name string, i interface{}) {
		if t, ok := i.(metrics.Timer); ok {
			names = append(names, name)
			timers[name] = t
		}
	})
	sort.Strings(names)

	ms := func(ns float64) string {
		return fmt.Sprintf("%.2fms", ns/float64(time.Millisecond))
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%-10s %8s %10s %10s %10s %10s %10s\n", "Test", "Count", "Mean", "P50", "P95", "P99", "Max")
	for _, name := range names {
		t := timers[name]
		ps := t.Percentiles([]float64{0.5, 0.95, 0.99})
		_, _ = fmt.Fprintf(w, "%-10s %8d %10s %10s %10s %10s %10s\n",
			name, t.Count(), ms(t.Mean()), ms(ps[0]), ms(ps[1]), ms(ps[2]), ms(float64(t.Max())))
	}
	_, _ = fmt.Fprintf(w, "\nErrors: %d\n", b.errors.Count())
}
