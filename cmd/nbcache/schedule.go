package main

import (
	"time"

	"github.com/go-co-op/gocron/v2"
)

var sweepScheduler gocron.Scheduler

// startSweepSchedule runs sweepExpired on a fixed interval until
// stopSweepSchedule is called.
func startSweepSchedule(blobDir string, every time.Duration) error {
	var err error
	sweepScheduler, err = gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sweepScheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { sweepExpired(blobDir) }),
	)
	if err != nil {
		return err
	}
	sweepScheduler.Start()
	return nil
}

func stopSweepSchedule() error {
	if sweepScheduler == nil {
		return nil
	}
	return sweepScheduler.Shutdown()
}
