/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package options holds the orchestrator's configuration surface: flags with
// environment-variable defaults.
package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"github.com/lws-dev/lws/pkg/utils/env"
)

// KnownServices is the stable bring-up order; each service binds
// fleet-port + index + 1.
var KnownServices = []string{"dynamodb", "s3", "sqs", "eventbridge", "sns"}

type Options struct {
	FleetPort       int
	DataDir         string
	Services        []string
	IdentitiesFile  string
	PermissionsFile string
	Watch           bool
	WatchDir        string
	LogLevel        string
	ShutdownGrace   time.Duration

	serviceCSV string
}

func New() *Options {
	return &Options{}
}

// AddFlags registers the flag set; every flag has an LWS_* environment
// default.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.FleetPort, "port", env.WithDefaultInt("LWS_PORT", 4566), "Fleet port; each service binds port+index+1.")
	fs.StringVar(&o.DataDir, "data-dir", env.WithDefaultString("LWS_DATA_DIR", "./data"), "Root of the persisted state layout.")
	fs.StringVar(&o.serviceCSV, "services", env.WithDefaultString("LWS_SERVICES", strings.Join(KnownServices, ",")), "Comma-separated services to start.")
	fs.StringVar(&o.IdentitiesFile, "identities", env.WithDefaultString("LWS_IDENTITIES", ""), "YAML file of IAM identities to preload.")
	fs.StringVar(&o.PermissionsFile, "permissions", env.WithDefaultString("LWS_PERMISSIONS", ""), "YAML file mapping operations to required actions.")
	fs.BoolVar(&o.Watch, "watch", env.WithDefaultBool("LWS_WATCH", false), "Watch the config directory and reload on change.")
	fs.StringVar(&o.WatchDir, "watch-dir", env.WithDefaultString("LWS_WATCH_DIR", ""), "Directory watched for reload; defaults to the identities file's directory.")
	fs.StringVar(&o.LogLevel, "log-level", env.WithDefaultString("LWS_LOG_LEVEL", "info"), "Log level: debug, info, warn or error.")
	fs.DurationVar(&o.ShutdownGrace, "shutdown-grace", env.WithDefaultDuration("LWS_SHUTDOWN_GRACE", 5*time.Second), "Grace window per provider on shutdown.")
}

// Validate resolves the service list against the known set and checks port
// sanity.
func (o *Options) Validate() error {
	if o.FleetPort < 1 || o.FleetPort > 65535-len(KnownServices)-1 {
		return fmt.Errorf("port %d leaves no room for service ports", o.FleetPort)
	}
	o.Services = lo.Compact(strings.Split(o.serviceCSV, ","))
	for i, s := range o.Services {
		o.Services[i] = strings.TrimSpace(s)
	}
	for _, s := range o.Services {
		if !lo.Contains(KnownServices, s) {
			return fmt.Errorf("unknown service %q; known services are %s", s, strings.Join(KnownServices, ", "))
		}
	}
	if len(o.Services) == 0 {
		return fmt.Errorf("at least one service must be enabled")
	}
	return nil
}

// PortFor returns the fixed port of a service: fleet-port + its index in the
// stable order + 1. Ports stay stable regardless of which subset runs.
func (o *Options) PortFor(service string) int {
	idx := lo.IndexOf(KnownServices, service)
	return o.FleetPort + idx + 1
}
