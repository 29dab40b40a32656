package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/crakt/gymmap/pkg/errors"
)

// GetString is a helper to get string values from Viper.
// It checks both OS environment variables and Viper configuration.
func GetString(key string) string {
	osValue := os.Getenv(key)
	viperValue := viper.GetString(key)

	// If Viper doesn't have it but OS does, return OS value
	if viperValue == "" && osValue != "" {
		return osValue
	}
	return viperValue
}

// GoogleAPIKey resolves the Google Places credential from the flag value or
// the conventional environment variables, in that order.
func GoogleAPIKey(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	for _, key := range []string{"GOOGLE_PLACES_API_KEY", "GOOGLE_API_KEY"} {
		if v := GetString(key); v != "" {
			return v, nil
		}
	}
	return "", errors.ErrAPIKeyRequired
}
