package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/davecheney/tube/models"
)

var jobTypes = []models.JobType{
	models.JobBroadcast,
	models.JobBroadcastParallel,
	models.JobUnicast,
	models.JobFollow,
	models.JobInbox,
	models.JobVideoRedundancy,
}

type JobsCmd struct {
}

func (j *JobsCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	jobs := models.NewJobs(db)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tWAITING\tACTIVE\tFAILED\tEXPIRED")
	for _, typ := range jobTypes {
		fmt.Fprintf(tw, "%s", typ)
		for _, state := range []models.JobState{models.JobWaiting, models.JobActive, models.JobFailed, models.JobExpired} {
			n, err := jobs.Count(typ, state)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "\t%d", n)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

type RunJobsCmd struct {
	Domain string `required:"" help:"domain of the instance"`
	Type   string `arg:"" help:"job type to run"`
}

func (r *RunJobsCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	inst, err := newInstance(ctx, db, r.Domain)
	if err != nil {
		return err
	}
	n, err := inst.queue.Drain(context.Background(), models.JobType(r.Type))
	fmt.Println("ran", n, "jobs")
	return err
}
