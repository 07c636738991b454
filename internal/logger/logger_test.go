package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func redirectTo(buf *bytes.Buffer, severity string) {
	lv := new(slog.LevelVar)
	SetLevel(lv, severity)
	defaultLoggerFactory = &loggerFactory{format: "text", level: lv}
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(buf))
}

func (s *LoggerTestSuite) TestSeverityFiltering() {
	cases := []struct {
		severity string
		wantLen  int // how many of the 5 calls produce output
	}{
		{OFF, 0},
		{ERROR, 1},
		{WARNING, 2},
		{INFO, 3},
		{DEBUG, 4},
		{TRACE, 5},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		redirectTo(&buf, c.severity)

		Tracef("trace")
		Debugf("debug")
		Infof("info")
		Warnf("warn")
		Errorf("error")

		lines := regexp.MustCompile("\n").Split(buf.String(), -1)
		nonEmpty := 0
		for _, l := range lines {
			if l != "" {
				nonEmpty++
			}
		}
		assert.Equalf(s.T(), c.wantLen, nonEmpty, "severity=%s", c.severity)
	}
}

func (s *LoggerTestSuite) TestFatalfPanics() {
	var buf bytes.Buffer
	redirectTo(&buf, TRACE)

	assert.Panics(s.T(), func() {
		Fatalf("boom %d", 7)
	})
	assert.Contains(s.T(), buf.String(), "boom 7")
}

func (s *LoggerTestSuite) TestJSONFormatUsesSeverityKey() {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	SetLevel(lv, INFO)
	defaultLoggerFactory = &loggerFactory{format: "json", level: lv}
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(&buf))

	Infof("hello")

	assert.Contains(s.T(), buf.String(), `"severity":"INFO"`)
	assert.Contains(s.T(), buf.String(), `"message":"hello"`)
}
