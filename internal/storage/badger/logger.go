package badger

import (
	badgerdb "github.com/dgraph-io/badger/v4"
	plog "github.com/phuslu/log"
)

// badgerLogger routes Badger's internal logging through phuslu at warn
// level so store internals don't drown the application log.
type badgerLogger struct {
	log plog.Logger
}

func newBadgerLogger() badgerdb.Logger {
	return &badgerLogger{
		log: plog.Logger{
			Level:  plog.WarnLevel,
			Writer: &plog.ConsoleWriter{},
		},
	}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
