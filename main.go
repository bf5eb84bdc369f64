package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/davecheney/tube/internal/config"
	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/gorm"
)

type Context struct {
	Debug bool

	gorm.Dialector
	gorm.Config

	// Settings are the federation tunables loaded from --config.
	Settings *config.Config
	Logger   *slog.Logger
}

// openDB opens the database named by --dsn.
func (c *Context) openDB() (*gorm.DB, error) {
	db, err := gorm.Open(c.Dialector, &c.Config)
	if err != nil {
		return nil, err
	}
	return db, configureDB(db, c.Settings.Database)
}

var cli struct {
	Debug  bool   `help:"Enable debug mode."`
	DSN    string `help:"data source name" default:"tube:tube@tcp(localhost:3306)/tube" env:"TUBE_DSN"`
	Config string `help:"path to a YAML configuration file" type:"path" env:"TUBE_CONFIG"`

	AutoMigrate          AutoMigrateCmd          `cmd:"" help:"Automigrate the database."`
	CreateInstance       CreateInstanceCmd       `cmd:"" help:"Create the server actor of an instance."`
	CreateAccount        CreateAccountCmd        `cmd:"" help:"Create a local account and its default channel."`
	DeleteAccount        DeleteAccountCmd        `cmd:"" help:"Delete a local account."`
	Follow               FollowCmd               `cmd:"" help:"Follow a remote actor."`
	Unfollow             UnfollowCmd             `cmd:"" help:"Stop following a remote actor."`
	FetchActor           FetchActorCmd           `cmd:"" help:"Fetch a remote actor and store it."`
	ShowActor            ShowActorCmd            `cmd:"" help:"Show a stored actor."`
	Block                BlockCmd                `cmd:"" help:"Block or unblock a remote server."`
	AllowRedundancy      AllowRedundancyCmd      `cmd:"" help:"Allow or deny mirroring the videos of a remote server."`
	Mirror               MirrorCmd               `cmd:"" help:"Mirror, or stop mirroring, a remote video."`
	Rate                 RateCmd                 `cmd:"" help:"Like or dislike a video."`
	Share                ShareCmd                `cmd:"" help:"Share, or stop sharing, a video."`
	Purge                PurgeCmd                `cmd:"" help:"Forget a remote video or actor."`
	Jobs                 JobsCmd                 `cmd:"" help:"Show the job queue."`
	RunJobs              RunJobsCmd              `cmd:"" help:"Run the due jobs of one type and exit."`
	HouseKeeping         HouseKeepingCmd         `cmd:"" help:"Purge old jobs, prune bad follows and rebuild counters."`
	SynchroniseFollowers SynchroniseFollowersCmd `cmd:"" help:"Compare a remote actor's followings with the local follow graph."`
	Serve                ServeCmd                `cmd:"" help:"Serve a local web server."`
}

func main() {
	ctx := kong.Parse(&cli)

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	settings, err := config.Load(cli.Config)
	ctx.FatalIfErrorf(err)

	gormLogger := slogGorm.New(slogGorm.WithLogger(logger))
	if cli.Debug {
		gormLogger = slogGorm.New(slogGorm.WithLogger(logger), slogGorm.WithTraceAll())
	}

	err = ctx.Run(&Context{
		Debug:     cli.Debug,
		Dialector: newDialector(cli.DSN),
		Config: gorm.Config{
			TranslateError: true,
			Logger:         gormLogger,
		},
		Settings: settings,
		Logger:   logger,
	})
	ctx.FatalIfErrorf(err)
}
