// fan-device stands in for the fan controller: it serves /setSpeed and
// announces its address to the panel on start.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/fanpanel/pkg/client"
	"github.com/IpsoVeritas/fanpanel/pkg/version"
	"github.com/IpsoVeritas/logger"
	flags "github.com/jessevdk/go-flags"
	"github.com/tylerb/graceful"
)

type options struct {
	Addr      string `short:"a" long:"addr" default:":80" description:"Address to serve /setSpeed on"`
	Panel     string `short:"p" long:"panel" default:"http://localhost:5000" description:"Panel base URL"`
	Advertise string `long:"advertise" required:"true" description:"Address reported to the panel, e.g. 192.168.0.42"`
	LogLevel  string `long:"log-level" default:"info" description:"Log level"`
}

func main() {
	opts := &options{}
	if _, err := flags.Parse(opts); err != nil {
		os.Exit(1)
	}

	logger.SetOutput(os.Stdout)
	logger.SetFormatter("text")
	logger.SetLevel(opts.LogLevel)
	logger.AddContext("service", path.Base(os.Args[0]))
	logger.AddContext("version", version.Version)

	fan := &fan{}
	server := &graceful.Server{
		Timeout: 5 * time.Second,
		Server: &http.Server{
			Addr:    opts.Addr,
			Handler: fan,
		},
	}

	go announce(opts.Panel, opts.Advertise)

	logger.Infof("Fan device listening at %s", opts.Addr)
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal(err)
	}
}

// announce registers with the panel, retrying until it succeeds.
func announce(panel, advertise string) {
	c, err := client.NewPanelClient(panel, nil)
	if err != nil {
		logger.Fatal(err)
	}

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := c.Register(ctx, advertise)
		cancel()
		if err == nil {
			logger.Infof("Registered %s with panel %s", advertise, panel)
			return
		}
		logger.Warningf("Registration failed, retrying: %s", err)
		time.Sleep(5 * time.Second)
	}
}

type fan struct {
	speed int32
}

func (f *fan) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/setSpeed" {
		http.NotFound(w, r)
		return
	}

	speed, err := fanpanel.ParseSpeed(r.URL.Query().Get("speed"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	atomic.StoreInt32(&f.speed, int32(speed))
	logger.Infof("Fan speed set to %d", speed)

	fmt.Fprintf(w, "Speed set to %d", speed)
}
