package main

import "github.com/holepunch/punchtun/std"

// Config for the traversal client.
type Config struct {
	Server  string `json:"server"`
	ID      string `json:"id"`
	Remote  string `json:"remote"`
	Listen  string `json:"listen"`
	Connect string `json:"connect"`
	Log     string `json:"log"`
	Quiet   bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	return std.LoadJSONConfig(config, path)
}
