// Package config holds per-service tunables for the collection and
// validation pipelines. Values come from an optional YAML file overlaid on
// built-in defaults; credentials and run flags stay in the environment and
// on the command line.
package config

import (
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/crakt/gymmap/pkg/errors"
)

// Service describes how to talk to one upstream service.
type Service struct {
	Endpoint string        `yaml:"endpoint,omitempty"`
	RPS      float64       `yaml:"rps,omitempty"`
	Burst    int           `yaml:"burst,omitempty"`
	Retries  int           `yaml:"retries,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// Services is the full set of upstream tunables.
type Services struct {
	Overpass  Service `yaml:"overpass"`
	Sport80   Service `yaml:"sport80"`
	Places    Service `yaml:"google_places"`
	Nominatim Service `yaml:"nominatim"`
}

// Defaults returns the stock tunables. Rates stay polite: Overpass slots
// fill quickly and Nominatim's usage policy caps anonymous clients at 1 rps.
func Defaults() Services {
	return Services{
		Overpass: Service{
			Endpoint: "https://overpass-api.de/api/interpreter",
			RPS:      0.9,
			Burst:    2,
			Retries:  6,
			Timeout:  300 * time.Second,
		},
		Sport80: Service{
			Endpoint: "https://usaclimbing.sport80.com",
			RPS:      1.0,
			Burst:    2,
			Retries:  2,
			Timeout:  30 * time.Second,
		},
		Places: Service{
			Endpoint: "https://places.googleapis.com/v1",
			RPS:      10.0,
			Burst:    10,
			Retries:  3,
			Timeout:  30 * time.Second,
		},
		Nominatim: Service{
			Endpoint: "https://nominatim.openstreetmap.org",
			RPS:      1.0,
			Burst:    1,
			Retries:  3,
			Timeout:  30 * time.Second,
		},
	}
}

// LoadServices reads tunables from path on top of the defaults. A missing
// file is not an error; a present but unparseable one is.
func LoadServices(path string) (Services, error) {
	services := Defaults()
	if path == "" {
		return services, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return services, nil
		}
		return services, errors.WrapIO("read", path, err)
	}
	if err := yaml.Unmarshal(data, &services); err != nil {
		return services, errors.NewValidationError("config", path, err.Error())
	}
	return services, nil
}
