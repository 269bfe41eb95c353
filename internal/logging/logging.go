package logging

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"os"
)

// Setup configures the standard logger and returns it tagged with the service name.
func Setup(level, format, service string) (*log.Entry, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stdout)

	switch format {
	case "json", "":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	return log.WithField("service", service), nil
}
