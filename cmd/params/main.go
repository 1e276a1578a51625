package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"camhal/pkg/config"
	"camhal/pkg/params"
	"camhal/pkg/utils"
)

var (
	configPath = flag.String("config", "", "json config file")
	set        = flag.String("set", "", "parameters to apply first, k=v;k=v")
	dump       = flag.Bool("dump", false, "print the hardware dump instead of the parameters")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
	flag.Parse()
}

func main() {
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	_ = utils.SetLevel("warn")

	ctx := context.Background()
	hw, err := cfg.OpenHardware(ctx)
	if err != nil {
		logger.Fatal(err)
	}
	defer hw.Release(ctx)

	if *set != "" {
		p := hw.Parameters()
		for k, v := range params.Unflatten(*set) {
			p.Set(k, v)
		}
		if err = hw.SetParameters(ctx, p); err != nil {
			logger.Error(err)
			return
		}
	}

	if *dump {
		if err = hw.Dump(os.Stdout); err != nil {
			logger.Error(err)
		}
		return
	}

	data, err := json.MarshalIndent(hw.Parameters(), "", "  ")
	if err != nil {
		logger.Error(err)
		return
	}
	fmt.Println(string(data))
}
