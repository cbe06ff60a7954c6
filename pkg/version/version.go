package version

// Version can be set at build time with -ldflags "-X github.com/IpsoVeritas/fanpanel/pkg/version.Version=..."
var Version = "dev"
