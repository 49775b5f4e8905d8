// Command autoexposure connects to a spectrometer and tunes the exposure
// time and gain so that the peak intensity lands just below saturation.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/photonbench/gospect/acquire"
	"github.com/photonbench/gospect/oceanoptics"
	"github.com/photonbench/gospect/spectrometer"

	"github.com/theckman/yacspin"
)

func main() {
	var (
		addr   = flag.String("addr", "", "ip:port or serial device file of the spectrometer")
		serial = flag.Bool("serial", false, "addr is a serial device file")
		mock   = flag.Bool("mock", false, "use a simulated spectrometer")
		low    = flag.Float64("low", acquire.DefaultBandLow, "lower edge of the target band, fraction of saturation")
		high   = flag.Float64("high", acquire.DefaultBandHigh, "upper edge of the target band, fraction of saturation")
		iters  = flag.Int("iters", acquire.DefaultMaxIterations, "maximum number of trial frames")
	)
	flag.Parse()
	if !*mock && *addr == "" {
		fmt.Fprintln(os.Stderr, "either -mock or -addr is required")
		flag.Usage()
		os.Exit(2)
	}

	var dev spectrometer.Spectrometer
	if *mock {
		dev = spectrometer.NewMock()
	} else {
		dev = oceanoptics.New(*addr, *serial)
	}
	if err := dev.Open(); err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " optimizing exposure",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	opt := acquire.NewOptimizer(dev)
	opt.BandLow = *low
	opt.BandHigh = *high
	opt.MaxIterations = *iters

	spinner.Start()
	res, err := opt.Run()
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		// warnings leave the best values found applied; still print them
		var timeout *acquire.TimeoutError
		if !errors.As(err, &timeout) && !errors.Is(err, acquire.ErrInsufficientSignal) {
			os.Exit(1)
		}
	} else {
		spinner.Stop()
	}
	fmt.Printf("exposure  %v\n", res.Exposure)
	fmt.Printf("gain      %g\n", res.Gain)
	fmt.Printf("peak      %g counts\n", res.Peak)
	fmt.Printf("frames    %d\n", res.Iterations)
}
