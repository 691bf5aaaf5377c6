package main

import (
	"embed"
	"errors"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"livenotes/internal/bootstrap"
	"livenotes/internal/config"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cfg, cfgErr := config.Load()

	log, level, logErr := bootstrap.NewLogger(cfg.Log)
	if logErr != nil {
		log, level = logger.NewDefaultLogger(), logger.INFO
	}

	app := NewApp(cfg, log, errors.Join(cfgErr, logErr))

	err := wails.Run(&options.App{
		Title:     "LiveNotes",
		Width:     1100,
		Height:    760,
		MinWidth:  720,
		MinHeight: 520,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 250, G: 250, B: 250, A: 1},
		Logger:           log,
		LogLevel:         level,
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		log.Fatal(err.Error())
	}
}
