package main

import (
	"context"
	"time"

	"github.com/mzazilink/backend/services/metrics"
)

// purgeRetentions hard-deletes unrecovered retention records whose recovery
// window has closed. The audit trail is untouched; it outlives the purge.
// Run it from a scheduler (daily is plenty).
func (cli *commandLine) purgeRetentions() error {
	n, err := cli.linkRepo.PurgeRetentions(context.Background(), time.Now().UTC())
	if err != nil {
		return err
	}
	metrics.RetentionsPurged.Add(float64(n))
	logger.Printf("purged %d retention record(s)", n)
	return nil
}
