package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/n-r-w/swrcache"
	"github.com/n-r-w/swrcache/internal/config"
	"github.com/n-r-w/swrcache/internal/origin"
)

const readerPageSize = 3

// runReader mimics a screen: it shows the list, then opens a few items.
func runReader(
	ctx context.Context,
	id int,
	cfg config.Simulation,
	list swrcache.IList[origin.Summary],
	details swrcache.IDetails[string, origin.Item],
	log zerolog.Logger,
) {
	log = log.With().Int("reader", id).Logger()

	ticker := time.NewTicker(cfg.ReadInterval)
	defer ticker.Stop()

	for {
		summaries := list.Preload(ctx)
		if len(summaries) > 0 {
			page := pickPage(summaries, readerPageSize)
			details.PreloadDetails(ctx, page...)

			item, ok := details.WaitForDetails(ctx, page[0], cfg.WaitTimeout)
			log.Debug().
				Int("items", len(summaries)).
				Str("opened", page[0]).
				Bool("available", ok).
				Int("revision", item.Revision).
				Str("state", details.State(page[0]).String()).
				Msg("Read")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pickPage(summaries []origin.Summary, size int) []string {
	start := rand.IntN(len(summaries)) //nolint:gosec // simulation
	page := make([]string, 0, size)
	for i := 0; i < size && i < len(summaries); i++ {
		page = append(page, summaries[(start+i)%len(summaries)].ID)
	}

	return page
}

// runMutator renames random items and reports each mutation through the signal.
func runMutator(
	ctx context.Context,
	interval time.Duration,
	client *origin.Client,
	ids []string,
	mutations *swrcache.Signal,
	log zerolog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		id := ids[rand.IntN(len(ids))] //nolint:gosec // simulation

		item, err := client.UpdateItem(ctx, id, fmt.Sprintf("Item %s (edit %d)", id, n), "edited")
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("id", id).Msg("Mutation failed")
			}
			continue
		}

		v := mutations.Bump()
		log.Info().Str("id", id).Int("revision", item.Revision).Uint64("version", v).Msg("Mutated")
	}
}

func report(srv *origin.Server, list swrcache.IList[origin.Summary], details swrcache.IDetails[string, origin.Item], log zerolog.Logger) {
	states := make(map[swrcache.State]int)
	for _, id := range srv.IDs() {
		states[details.State(id)]++
	}

	stats := srv.Stats()
	ev := log.Info().
		Int64("list_requests", stats.List).
		Int64("detail_requests", stats.Detail).
		Int64("updates", stats.Update).
		Int64("injected_failures", stats.Failed).
		Bool("list_cached", list.HasData())

	for state, n := range states {
		ev = ev.Int(state.String(), n)
	}

	ev.Msg("Simulation finished")
}
