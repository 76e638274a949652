package manager

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/proxyworld/pkg/cache"
	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/cuemby/proxyworld/pkg/metrics"
	"github.com/cuemby/proxyworld/pkg/subscription"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultFetchConcurrency bounds parallel subscription fetches
const DefaultFetchConcurrency = 4

// Fetcher downloads subscription payloads
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Fetch kinds, used as metric labels
const (
	KindProxies = "proxies"
	KindRules   = "rules"
)

// FetchResult is the outcome of fetching one subscription. On failure Err is
// set and the previous cache entry stays in place.
type FetchResult struct {
	ID      uuid.UUID
	Name    string
	Kind    string
	Proxies *cache.ProxyEntry
	Rules   *cache.RuleEntry
	Err     error
}

// FetchAll fetches and decodes every subscription of shared, at most
// concurrency at a time. It never fails as a whole: each result carries its
// own error.
func FetchAll(ctx context.Context, f Fetcher, shared *types.SharedData, concurrency int) []FetchResult {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	results := make([]FetchResult, len(shared.Subscriptions)+len(shared.RuleSubscriptions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, sub := range shared.Subscriptions {
		g.Go(func() error {
			results[i] = fetchNodes(gctx, f, sub)
			return nil
		})
	}
	offset := len(shared.Subscriptions)
	for i, rs := range shared.RuleSubscriptions {
		g.Go(func() error {
			results[offset+i] = fetchRules(gctx, f, rs)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func fetchNodes(ctx context.Context, f Fetcher, sub types.NodeSubscription) FetchResult {
	res := FetchResult{ID: sub.ID, Name: sub.Name, Kind: KindProxies}
	timer := metrics.NewTimer()
	defer func() { observeFetch(timer, res) }()

	data, err := f.Fetch(ctx, sub.URL)
	if err != nil {
		res.Err = err
		return res
	}
	content, err := subscription.Decode(sub.Type, data)
	if err != nil {
		res.Err = err
		return res
	}
	if content.Skipped > 0 {
		logger := log.WithSubscriptionID(sub.ID.String())
		logger.Warn().
			Str("subscription", sub.Name).
			Int("skipped", content.Skipped).
			Msg("Some nodes could not be decoded")
	}
	res.Proxies = &cache.ProxyEntry{
		Nodes:     content.Nodes,
		Metadata:  content.Metadata,
		UpdatedAt: time.Now().UTC(),
	}
	return res
}

func fetchRules(ctx context.Context, f Fetcher, rs types.RuleSubscription) FetchResult {
	res := FetchResult{ID: rs.ID, Name: rs.Name, Kind: KindRules}
	timer := metrics.NewTimer()
	defer func() { observeFetch(timer, res) }()

	var (
		data []byte
		err  error
	)
	if rs.IsLocalFile {
		data, err = os.ReadFile(strings.TrimPrefix(rs.URL, "file://"))
		if err != nil {
			err = fmt.Errorf("failed to read rule file: %w", err)
		}
	} else {
		data, err = f.Fetch(ctx, rs.URL)
	}
	if err != nil {
		res.Err = err
		return res
	}

	provider, err := subscription.DecodeRuleProvider(data)
	if err != nil {
		res.Err = err
		return res
	}
	res.Rules = &cache.RuleEntry{Provider: *provider, UpdatedAt: time.Now().UTC()}
	return res
}

func observeFetch(timer *metrics.Timer, res FetchResult) {
	timer.ObserveDurationVec(metrics.FetchDuration, res.Kind)
	result := metrics.ResultSuccess
	if res.Err != nil {
		result = metrics.ResultError
	}
	metrics.FetchTotal.WithLabelValues(res.Kind, result).Inc()
}

// ApplyResults writes successful results to store and logs failures. It
// returns the number of entries written.
func ApplyResults(store cache.Store, results []FetchResult) int {
	written := 0
	for _, res := range results {
		logger := log.WithSubscriptionID(res.ID.String()).With().
			Str("subscription", res.Name).
			Str("kind", res.Kind).
			Logger()

		if res.Err != nil {
			logger.Warn().Err(res.Err).Msg("Fetch failed, keeping cached data")
			continue
		}

		var err error
		switch {
		case res.Proxies != nil:
			err = store.PutProxies(res.ID, res.Proxies)
			if err == nil {
				ev := logger.Info().Int("nodes", len(res.Proxies.Nodes))
				if md := res.Proxies.Metadata; !md.Empty() {
					ev = ev.Str("remaining", md.RemainingData).Str("expires", md.ExpirationDate)
				}
				ev.Msg("Subscription updated")
			}
		case res.Rules != nil:
			err = store.PutRules(res.ID, res.Rules)
			if err == nil {
				logger.Info().Int("collections", len(res.Rules.Provider.Collections)).Msg("Rule subscription updated")
			}
		default:
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to write cache entry")
			continue
		}
		written++
	}
	return written
}

// subscriptionIDs returns every subscription id referenced by shared
func subscriptionIDs(shared *types.SharedData) map[uuid.UUID]bool {
	keep := make(map[uuid.UUID]bool, len(shared.Subscriptions)+len(shared.RuleSubscriptions))
	for _, s := range shared.Subscriptions {
		keep[s.ID] = true
	}
	for _, rs := range shared.RuleSubscriptions {
		keep[rs.ID] = true
	}
	return keep
}
