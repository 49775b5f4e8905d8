package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/photonbench/gospect/acquire"
	"github.com/photonbench/gospect/generichttp"
	"github.com/photonbench/gospect/oceanoptics"
	"github.com/photonbench/gospect/server/middleware/locker"
	"github.com/photonbench/gospect/specrec"
	"github.com/photonbench/gospect/spectrometer"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "spectsrv.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type device struct {
	// Mock selects the simulated spectrometer instead of real hardware
	Mock bool `yaml:"Mock"`

	// Addr is either an ip:port or a serial device file
	Addr string `yaml:"Addr"`

	// Serial is true if Addr is a serial device file
	Serial bool `yaml:"Serial"`
}

type live struct {
	// Averages is the number of frames averaged per live frame
	Averages int `yaml:"Averages"`

	// IntervalMs is the minimum spacing between live frames, milliseconds
	IntervalMs int `yaml:"IntervalMs"`
}

type config struct {
	Addr     string   `yaml:"Addr"`
	Root     string   `yaml:"Root"`
	Device   device   `yaml:"Device"`
	Live     live     `yaml:"Live"`
	Recorder recorder `yaml:"Recorder"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr: ":8000",
		Root: "/",
		Device: device{
			Mock: true},
		Live: live{
			Averages:   1,
			IntervalMs: 200},
		Recorder: recorder{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `spectsrv exposes control of UV/VIS spectrometers over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	spectsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `spectsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Device.Mock true runs the server against a simulated spectrometer, useful for
client development without hardware attached.  Otherwise Device.Addr is the
ip:port of a networked spectrometer, or the device file of a serial one with
Device.Serial true.

If the files and folders created do not have the permissions you want on linux,
your umask is likely to blame  spectsrv makes them with permission 666, but your
umask is probably the default of 0022 which knocks them down to 444.  Set your
umask to 0000 before running spectsrv to solve this.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("spectsrv version %v\n", Version)
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)

	var dev spectrometer.Spectrometer
	if cfg.Device.Mock {
		log.Println("using simulated spectrometer")
		dev = spectrometer.NewMock()
	} else {
		log.Printf("connecting to spectrometer at %s\n", cfg.Device.Addr)
		dev = oceanoptics.New(cfg.Device.Addr, cfg.Device.Serial)
	}

	c, err := acquire.NewController(dev)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	if cfg.Live.Averages > 0 {
		c.SetLiveAverages(cfg.Live.Averages)
	}
	if cfg.Live.IntervalMs > 0 {
		c.SetLiveInterval(time.Duration(cfg.Live.IntervalMs) * time.Millisecond)
	}

	args := cfg.Recorder
	r := &specrec.Recorder{Root: args.Root, Prefix: args.Prefix, Enabled: args.Root != ""}
	w := acquire.NewHTTPController(c, r)
	specrec.NewHTTPWrapper(r).Inject(w)
	lck := locker.New()
	locker.Inject(w, lck)
	w.Lock = lck

	// clean up the submux string
	hndlrS := cfg.Root
	hndlrS = generichttp.SubMuxSanitize(hndlrS)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lck.Check)
	root.Mount(hndlrS, mux)
	w.RT().Bind(mux)
	addr := cfg.Addr + cfg.Root
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
