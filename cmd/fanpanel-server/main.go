package main

import (
	"net/http"
	"os"
	"path"
	"time"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/fanpanel/pkg/forwarder"
	"github.com/IpsoVeritas/fanpanel/pkg/notify"
	"github.com/IpsoVeritas/fanpanel/pkg/server/api"
	"github.com/IpsoVeritas/fanpanel/pkg/server/clients"
	"github.com/IpsoVeritas/fanpanel/pkg/server/device"
	"github.com/IpsoVeritas/fanpanel/pkg/server/metrics"
	"github.com/IpsoVeritas/fanpanel/pkg/version"
	"github.com/IpsoVeritas/httphandler"
	"github.com/IpsoVeritas/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tylerb/graceful"

	"github.com/ulule/limiter"
	"github.com/ulule/limiter/drivers/store/memory"
)

func main() {
	_ = godotenv.Load(".env")
	loadConfig()

	logger.SetOutput(os.Stdout)
	logger.SetFormatter(viper.GetString("log_formatter"))
	logger.SetLevel(viper.GetString("log_level"))
	logger.AddContext("service", path.Base(os.Args[0]))
	logger.AddContext("version", version.Version)

	addr := viper.GetString("addr")
	server := &graceful.Server{
		Timeout: time.Duration(15) * time.Second,
		Server: &http.Server{
			Addr:    addr,
			Handler: loadHandler(),
		},
	}

	logger.Infof("Server with version %s starting at %s", version.Version, addr)
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal(err)
	}
}

func loadConfig() {
	viper.AutomaticEnv()
	viper.SetDefault("log_formatter", "text")
	viper.SetDefault("log_level", "debug")
	viper.SetDefault("addr", ":5000")
	viper.SetDefault("device_addr", "")
	viper.SetDefault("device_timeout", "2s")
	viper.SetDefault("update_rate_limit", 1200)
	viper.SetDefault("update_rate_period", "1m")
	viper.SetDefault("mqtt_broker", "")
	viper.SetDefault("mqtt_client_id", "fanpanel")
	viper.SetDefault("mqtt_user", "")
	viper.SetDefault("mqtt_password", "")
	viper.SetDefault("mqtt_topic", "fanpanel")
}

func loadHandler() http.Handler {

	wrappers := httphandler.NewWrapper(false)

	registry := device.New(viper.GetString("device_addr"))
	subscribers := clients.New()
	m := metrics.New()
	m.TrackSubscribers(subscribers.Len)
	m.SetConnected(registry.Status().Connected)

	publishers := fanpanel.Publishers{subscribers, m}
	if broker := viper.GetString("mqtt_broker"); broker != "" {
		pub, err := notify.Connect(
			broker,
			viper.GetString("mqtt_client_id"),
			viper.GetString("mqtt_user"),
			viper.GetString("mqtt_password"),
			viper.GetString("mqtt_topic"),
		)
		if err != nil {
			logger.Fatal(err)
		}
		publishers = append(publishers, pub)
	}

	store, err := loadLimiterStore()
	if err != nil {
		logger.Fatal(err)
	}
	limiter := limiter.New(store, limiter.Rate{
		Period: viper.GetDuration("update_rate_period"),
		Limit:  viper.GetInt64("update_rate_limit"),
	})

	fwd := forwarder.New(nil, viper.GetDuration("device_timeout"))

	r := httphandler.NewRouter()

	indexController := api.NewIndexController(registry)
	r.GET("/", wrappers.Wrap(indexController.Index))
	r.GET("/version", wrappers.Wrap(api.Version))

	statusController := api.NewStatusController(registry)
	r.GET("/status", statusController.Handle)

	updateController := api.NewUpdateController(registry, fwd, limiter, publishers, m)
	r.GET("/update", updateController.Handle)

	receiveController := api.NewReceiveController(registry, publishers)
	r.POST("/receive_ip", receiveController.Handle)

	eventsController := api.NewEventsController(subscribers, registry)
	r.GET("/events", eventsController.SubscribeHandler)

	r.Handler(http.MethodGet, "/metrics", m.Handler())

	return httphandler.LoadMiddlewares(r, version.Version)
}

func loadLimiterStore() (limiter.Store, error) {
	return memory.NewStore(), nil
}
