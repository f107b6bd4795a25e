package setup

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/hashicorp/go-multierror"
)

const (
	ServiceName       = "nicd"
	LaunchDaemonLabel = "org.opennic.nicd"
)

var systemdUnitTemplate = template.Must(template.New("unit").Parse(`# Generated by nicd
[Unit]
Description=OpenNIC resolver pool daemon
Wants=network-online.target
After=network-online.target systemd-resolved.service

[Service]
ExecStart={{.BinaryPath}} run
Restart=always
RestartSec=5s

[Install]
WantedBy=multi-user.target
`))

var launchDaemonTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>` + LaunchDaemonLabel + `</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.BinaryPath}}</string>
		<string>run</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardErrorPath</key>
	<string>{{.LogPath}}</string>
</dict>
</plist>
`))

func renderUnit(config *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := systemdUnitTemplate.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("rendering systemd unit: %w", err)
	}
	return buf.Bytes(), nil
}

func renderPlist(config *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := launchDaemonTemplate.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("rendering launchd plist: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreAll undoes every installer's changes, continuing past failures.
func RestoreAll(ctx context.Context, restorers ...Restorer) error {
	var merr *multierror.Error
	for _, r := range restorers {
		if err := r.Restore(ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
