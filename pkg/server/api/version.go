package api

import (
	"net/http"
	"os"
	"path"

	"github.com/IpsoVeritas/fanpanel/pkg/version"
	"github.com/IpsoVeritas/httphandler"
)

// Version returns the servers version
func Version(req httphandler.Request) httphandler.Response {
	return httphandler.NewStandardResponse(http.StatusOK, "text/plain", versionString())
}

func versionString() string {
	return path.Base(os.Args[0]) + "/" + version.Version
}
