/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package bridge

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fleetbridge/pkg/broker"
	"github.com/carverauto/fleetbridge/pkg/logger"
)

const (
	defaultListenAddr       = ":5000"
	defaultHost             = "localhost"
	defaultMQTTPort         = 1883
	defaultNATSPort         = 4222
	defaultKeepAlive        = 60 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultReconnectBackoff = 15 * time.Second
	defaultPublishTimeout   = time.Second
	defaultListenerPrefix   = "dashboard_listener_"
	defaultPublisherPrefix  = "dashboard_publisher_"
	defaultQueueSize        = 256
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultCommandRate      = 5
	defaultCommandBurst     = 10
	maxPort                 = 65535
)

// DefaultR2STopics are the robot-to-server sub-topics pre-seeded per robot.
func DefaultR2STopics() []string {
	return []string{"robot_status", "lane_follow_cmd", "scan_multi", "gloal_path_gps", "camera", "routed_map"}
}

// DefaultS2RTopics are the server-to-robot sub-topics pre-seeded per robot.
func DefaultS2RTopics() []string {
	return []string{"joystick_control", "server_cmd"}
}

// DefaultImageTopics carry image frames that get normalized on arrival.
func DefaultImageTopics() []string {
	return []string{"routed_map", "camera"}
}

// BrokerConfig describes the message broker connection.
type BrokerConfig struct {
	Transport             string   `json:"transport"`
	Host                  string   `json:"host"`
	Port                  int      `json:"port"`
	Username              string   `json:"username"`
	Password              string   `json:"password" sensitive:"true"`
	KeepAlive             Duration `json:"keepalive"`
	ConnectTimeout        Duration `json:"connect_timeout"`
	ReconnectBackoff      Duration `json:"reconnect_backoff"`
	PublishTimeout        Duration `json:"publish_timeout"`
	ListenerClientPrefix  string   `json:"listener_client_prefix"`
	PublisherClientPrefix string   `json:"publisher_client_prefix"`
	InboundQueue          int      `json:"inbound_queue,omitempty"`
}

// ViewerConfig tunes websocket viewer sessions.
type ViewerConfig struct {
	QueueSize      int      `json:"queue_size"`
	WriteTimeout   Duration `json:"write_timeout"`
	PingInterval   Duration `json:"ping_interval"`
	CommandRate    *float64 `json:"command_rate,omitempty"`
	CommandBurst   int      `json:"command_burst"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Config is the fleetbridge process configuration.
type Config struct {
	ListenAddr         string         `json:"listen_addr"`
	StaticDir          string         `json:"static_dir"`
	Broker             BrokerConfig   `json:"broker"`
	KnownRobots        []string       `json:"known_robots"`
	R2STopics          []string       `json:"r2s_topics"`
	S2RTopics          []string       `json:"s2r_topics"`
	ImageTopics        []string       `json:"image_topics"`
	AllowDynamicRobots bool           `json:"allow_dynamic_robots"`
	Viewer             ViewerConfig   `json:"viewer"`
	Logging            *logger.Config `json:"logging,omitempty"`
}

// Validate implements config.Validator. Unset fields get their defaults and
// every problem found is reported together.
func (c *Config) Validate() error {
	c.applyDefaults()

	var errs []error

	errs = append(errs, c.validateRoster()...)
	errs = append(errs, validateTopics("r2s_topics", c.R2STopics)...)
	errs = append(errs, validateTopics("s2r_topics", c.S2RTopics)...)
	errs = append(errs, validateTopics("image_topics", c.ImageTopics)...)
	errs = append(errs, c.validateBroker()...)
	errs = append(errs, c.validateViewer()...)

	return errors.Join(errs...)
}

// ExpectedTopics is the union of both direction sets, r2s first.
func (c *Config) ExpectedTopics() []string {
	seen := make(map[string]struct{}, len(c.R2STopics)+len(c.S2RTopics))
	out := make([]string, 0, len(c.R2STopics)+len(c.S2RTopics))

	for _, group := range [][]string{c.R2STopics, c.S2RTopics} {
		for _, t := range group {
			if _, ok := seen[t]; ok {
				continue
			}

			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// BrokerOptions converts the broker section for broker.NewDialer.
func (c *Config) BrokerOptions() broker.Options {
	return broker.Options{
		Host:           c.Broker.Host,
		Port:           c.Broker.Port,
		Username:       c.Broker.Username,
		Password:       c.Broker.Password,
		KeepAlive:      time.Duration(c.Broker.KeepAlive),
		ConnectTimeout: time.Duration(c.Broker.ConnectTimeout),
		InboundQueue:   c.Broker.InboundQueue,
	}
}

// ApplyPortOverride replaces the port of ListenAddr, keeping its host. An
// empty port leaves the address alone.
func (c *Config) ApplyPortOverride(port string) error {
	if port == "" {
		return nil
	}

	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > maxPort {
		return fmt.Errorf("%w: PORT=%q", errInvalidPort, port)
	}

	addr := c.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("listen_addr %q: %w", addr, err)
	}

	c.ListenAddr = net.JoinHostPort(host, port)

	return nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.R2STopics == nil {
		c.R2STopics = DefaultR2STopics()
	}

	if c.S2RTopics == nil {
		c.S2RTopics = DefaultS2RTopics()
	}

	if c.ImageTopics == nil {
		c.ImageTopics = DefaultImageTopics()
	}

	b := &c.Broker

	b.Transport = strings.ToLower(b.Transport)
	if b.Transport == "" {
		b.Transport = broker.TransportMQTT
	}

	if b.Host == "" {
		b.Host = defaultHost
	}

	if b.Port == 0 {
		b.Port = defaultMQTTPort
		if b.Transport == broker.TransportNATS {
			b.Port = defaultNATSPort
		}
	}

	setDuration(&b.KeepAlive, defaultKeepAlive)
	setDuration(&b.ConnectTimeout, defaultConnectTimeout)
	setDuration(&b.ReconnectBackoff, defaultReconnectBackoff)
	setDuration(&b.PublishTimeout, defaultPublishTimeout)

	if b.ListenerClientPrefix == "" {
		b.ListenerClientPrefix = defaultListenerPrefix
	}

	if b.PublisherClientPrefix == "" {
		b.PublisherClientPrefix = defaultPublisherPrefix
	}

	v := &c.Viewer

	if v.QueueSize == 0 {
		v.QueueSize = defaultQueueSize
	}

	setDuration(&v.WriteTimeout, defaultWriteTimeout)
	setDuration(&v.PingInterval, defaultPingInterval)

	if v.CommandRate == nil {
		rate := float64(defaultCommandRate)
		v.CommandRate = &rate
	}

	if v.CommandBurst == 0 {
		v.CommandBurst = defaultCommandBurst
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

func (c *Config) validateRoster() []error {
	if len(c.KnownRobots) == 0 && !c.AllowDynamicRobots {
		return []error{errNoRobots}
	}

	var errs []error

	seen := make(map[string]struct{}, len(c.KnownRobots))

	for _, id := range c.KnownRobots {
		if !broker.ValidSegment(id) {
			errs = append(errs, fmt.Errorf("%w: %q", errInvalidRobotID, id))
			continue
		}

		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("%w: %q", errDuplicateRobot, id))
			continue
		}

		seen[id] = struct{}{}
	}

	return errs
}

func validateTopics(field string, topics []string) []error {
	var errs []error

	for _, t := range topics {
		if t == "" || strings.ContainsAny(t, "+#") {
			errs = append(errs, fmt.Errorf("%w in %s: %q", errInvalidTopic, field, t))
		}
	}

	return errs
}

func (c *Config) validateBroker() []error {
	var errs []error

	b := c.Broker

	if b.Transport != broker.TransportMQTT && b.Transport != broker.TransportNATS {
		errs = append(errs, fmt.Errorf("%w: %q", errUnknownTransport, b.Transport))
	}

	if b.Port < 1 || b.Port > maxPort {
		errs = append(errs, fmt.Errorf("%w: %d", errInvalidPort, b.Port))
	}

	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"broker.keepalive", b.KeepAlive},
		{"broker.connect_timeout", b.ConnectTimeout},
		{"broker.reconnect_backoff", b.ReconnectBackoff},
		{"broker.publish_timeout", b.PublishTimeout},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%w: %s", errNegativeDuration, d.name))
		}
	}

	if b.InboundQueue < 0 {
		errs = append(errs, fmt.Errorf("%w: broker.inbound_queue", errNegativeSetting))
	}

	return errs
}

func (c *Config) validateViewer() []error {
	var errs []error

	v := c.Viewer

	if v.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("%w: viewer.queue_size", errNegativeSetting))
	}

	if v.CommandBurst < 0 {
		errs = append(errs, fmt.Errorf("%w: viewer.command_burst", errNegativeSetting))
	}

	if v.CommandRate != nil && *v.CommandRate < 0 {
		errs = append(errs, fmt.Errorf("%w: viewer.command_rate", errNegativeSetting))
	}

	if v.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: viewer.write_timeout", errNegativeDuration))
	}

	if v.PingInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: viewer.ping_interval", errNegativeDuration))
	}

	return errs
}
