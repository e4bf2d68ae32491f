package config

import "strings"

func (c *Config) normalize() error {
	c.Service.BaseURL = strings.TrimRight(strings.TrimSpace(c.Service.BaseURL), "/")
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Logging.Format = strings.TrimSpace(c.Logging.Format)
	c.Logging.Level = strings.TrimSpace(c.Logging.Level)

	for _, field := range []*string{&c.Paths.JobsDir, &c.Paths.LogDir} {
		expanded, err := expandPath(strings.TrimSpace(*field))
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}
