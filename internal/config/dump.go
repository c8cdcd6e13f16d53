package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

const masked = "******"

// Dump writes c as YAML with passwords masked.
func (c *Config) Dump(w io.Writer) error {
	cp := *c
	cp.Wifi.Password = mask(cp.Wifi.Password)
	cp.Wifi.APPassword = mask(cp.Wifi.APPassword)
	cp.MQTT.Password = mask(cp.MQTT.Password)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&cp); err != nil {
		return err
	}
	return enc.Close()
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return masked
}
