// client.go - Jam client.
// Copyright (C) 2017  Jamtaba authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package client implements the client side of the jam session protocol,
// for consumption by whatever front end renders the jam.
package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"gopkg.in/op/go-logging.v1"

	"github.com/elieserdejesus/jamtaba/core/log"
	"github.com/elieserdejesus/jamtaba/core/worker"
	"github.com/elieserdejesus/jamtaba/quic/common"
	"github.com/elieserdejesus/jamtaba/wire"
	"github.com/elieserdejesus/jamtaba/wire/commands"
)

const (
	defaultKeepAlivePeriod = 15 * time.Second
	handshakeTimeout       = 30 * time.Second
	eventSinkDepth         = 128
)

// Config is a jam client configuration.
type Config struct {
	// Address is the server address URL (`tcp://host:port` or
	// `quic://host:port`).
	Address string

	// UserName is the display name to join as.
	UserName string

	// Password is the registered user password.  When empty the client
	// logs in anonymously.
	Password string

	// KeepAlivePeriod is the interval between keep alives sent to the
	// server.
	KeepAlivePeriod time.Duration

	// LogBackend is the logging backend, a disabled backend is used when
	// nil.
	LogBackend *log.Backend
}

func (cfg *Config) validate() error {
	if cfg.Address == "" {
		return fmt.Errorf("client: no Address specified")
	}
	if cfg.UserName == "" {
		return fmt.Errorf("client: no UserName specified")
	}
	if cfg.KeepAlivePeriod == 0 {
		cfg.KeepAlivePeriod = defaultKeepAlivePeriod
	}
	if cfg.LogBackend == nil {
		b, err := log.New("", "NOTICE", true)
		if err != nil {
			return err
		}
		cfg.LogBackend = b
	}
	return nil
}

// downloadStream tracks an in-flight interval download so interleaved
// chunks from multiple uploaders can be demuxed by GUID.
type downloadStream struct {
	userName     string
	channelIndex uint8
}

// Client is a jam session client instance.
type Client struct {
	worker.Worker

	cfg *Config
	log *logging.Logger

	c   net.Conn
	dec *wire.StreamDecoder

	// EventSink receives the events describing everything that happens
	// in the jam.  It is closed when the client shuts down.
	EventSink chan interface{}

	sendMu sync.Mutex

	stateMu  sync.Mutex
	userName string
	bpm, bpi uint16
	topic    string

	uploadMu sync.Mutex
	uploads  map[uint8][commands.GUIDLength]byte

	haltOnce sync.Once
}

// UserName returns the server assigned unique user name.
func (c *Client) UserName() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.userName
}

// Tempo returns the last announced bpm and bpi.
func (c *Client) Tempo() (uint16, uint16) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.bpm, c.bpi
}

// Topic returns the last announced topic.
func (c *Client) Topic() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.topic
}

// Shutdown cleanly shuts down the client and closes the EventSink.
func (c *Client) Shutdown() {
	c.haltOnce.Do(func() {
		c.c.Close()
		c.Halt()
		close(c.EventSink)
	})
}

func (c *Client) sendCommand(cmd commands.Command) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	_, err := c.c.Write(cmd.ToBytes())
	return err
}

// SetChannels publishes the client's channel set.
func (c *Client) SetChannels(channels []commands.Channel) error {
	return c.sendCommand(&commands.SetChannel{Channels: channels})
}

// SetUserMask subscribes to the given channels (a bitmask by channel
// index) of the named user.
func (c *Client) SetUserMask(userName string, channelsMask uint32) error {
	return c.sendCommand(&commands.SetUserMask{
		UserName:     userName,
		ChannelsMask: channelsMask,
	})
}

// SendChatMessage sends a public chat message.
func (c *Client) SendChatMessage(text string) error {
	return c.sendCommand(commands.NewChatMessage(text, commands.GenericMessage))
}

// SendPrivateMessage sends a private chat message to the named user.
func (c *Client) SendPrivateMessage(recipient, text string) error {
	return c.sendCommand(commands.NewChatMessage(
		fmt.Sprintf("/msg %s %s", recipient, text), commands.PrivateMessage))
}

// SendAdminCommand sends an in-band admin command (eg: `bpm 90`).
func (c *Client) SendAdminCommand(text string) error {
	return c.sendCommand(&commands.ChatMessage{
		Kind: commands.AdminMessage,
		Text: text,
	})
}

// SetTopic asks the server to change the topic.  Only authenticated
// users are authorized to do so.
func (c *Client) SetTopic(topic string) error {
	return c.sendCommand(&commands.ChatMessage{
		Kind: commands.TopicMessage,
		Text: topic,
	})
}

// SubmitAudioChunk publishes a chunk of the current audio interval on the
// given channel.  The first chunk of an interval generates a fresh GUID,
// isLastPart finishes the interval.
func (c *Client) SubmitAudioChunk(channelIndex uint8, data []byte, isLastPart bool) error {
	c.uploadMu.Lock()
	defer c.uploadMu.Unlock()

	guid, ok := c.uploads[channelIndex]
	if !ok {
		u, err := uuid.NewV4()
		if err != nil {
			return err
		}
		guid = [commands.GUIDLength]byte(u)
		if err = c.sendCommand(&commands.UploadIntervalBegin{
			GUID:          guid,
			EstimatedSize: uint32(len(data)),
			FourCC:        commands.FourCCAudio,
			ChannelIndex:  channelIndex,
			UserName:      c.UserName(),
		}); err != nil {
			return err
		}
		c.uploads[channelIndex] = guid
	}
	if isLastPart {
		delete(c.uploads, channelIndex)
	}

	return c.sendCommand(&commands.IntervalUploadWrite{
		GUID:        guid,
		IsLastPart:  isLastPart,
		EncodedData: data,
	})
}

func (c *Client) sendEvent(event interface{}) bool {
	select {
	case c.EventSink <- event:
		return true
	case <-c.HaltCh():
		return false
	}
}

func (c *Client) keepAliveWorker() {
	t := time.NewTicker(c.cfg.KeepAlivePeriod)
	defer t.Stop()
	for {
		select {
		case <-c.HaltCh():
			return
		case <-t.C:
		}
		if err := c.sendCommand(&commands.KeepAlive{}); err != nil {
			c.log.Debugf("Failed to send keep alive: %v", err)
			return
		}
	}
}

func (c *Client) recvWorker() {
	downloads := make(map[[commands.GUIDLength]byte]*downloadStream)

	buf := make([]byte, 4096)
	for {
		var rawCmd commands.Command
		for rawCmd == nil {
			hdr, payload, err := c.dec.Next()
			if err != nil {
				c.onDisconnect(err)
				return
			}
			if hdr == nil {
				n, err := c.c.Read(buf)
				if err != nil {
					c.onDisconnect(err)
					return
				}
				c.dec.Feed(buf[:n])
				continue
			}
			rawCmd, err = commands.FromServerBytes(hdr.MessageType, payload)
			if err == commands.ErrUnknownMessageType {
				c.log.Debugf("Skipping unknown message type: 0x%02x", hdr.MessageType)
				continue
			}
			if err != nil {
				c.onDisconnect(err)
				return
			}
		}

		if !c.onServerCommand(rawCmd, downloads) {
			return
		}
	}
}

func (c *Client) onServerCommand(rawCmd commands.Command, downloads map[[commands.GUIDLength]byte]*downloadStream) bool {
	switch cmd := rawCmd.(type) {
	case *commands.KeepAlive:
	case *commands.ConfigChangeNotify:
		c.stateMu.Lock()
		c.bpm, c.bpi = cmd.BPM, cmd.BPI
		c.stateMu.Unlock()
		return c.sendEvent(&ServerConfigEvent{BPM: cmd.BPM, BPI: cmd.BPI})
	case *commands.UserInfoChangeNotify:
		return c.sendEvent(&ChannelsChangedEvent{Channels: cmd.Channels})
	case *commands.DownloadIntervalBegin:
		downloads[cmd.GUID] = &downloadStream{
			userName:     cmd.UserName,
			channelIndex: cmd.ChannelIndex,
		}
	case *commands.DownloadIntervalWrite:
		stream, ok := downloads[cmd.GUID]
		if !ok {
			c.log.Debugf("Dropping interval write for unknown GUID: %x", cmd.GUID)
			return true
		}
		if cmd.IsLastPart {
			delete(downloads, cmd.GUID)
		}
		return c.sendEvent(&AudioChunkEvent{
			UserName:     stream.userName,
			ChannelIndex: stream.channelIndex,
			GUID:         cmd.GUID,
			Data:         cmd.EncodedData,
			IsLastPart:   cmd.IsLastPart,
		})
	case *commands.ChatNotify:
		return c.onChatNotify(cmd)
	default:
		c.log.Debugf("Ignoring unexpected command: %T", cmd)
	}
	return true
}

func (c *Client) onChatNotify(cmd *commands.ChatNotify) bool {
	arg := func(i int) string {
		if i < len(cmd.Args) {
			return cmd.Args[i]
		}
		return ""
	}

	switch cmd.Command {
	case commands.ChatCommandMsg:
		return c.sendEvent(&ChatMessageEvent{
			Kind: commands.GenericMessage,
			From: arg(0),
			Text: arg(1),
		})
	case commands.ChatCommandPrivMsg:
		return c.sendEvent(&ChatMessageEvent{
			Kind: commands.PrivateMessage,
			From: arg(0),
			Text: arg(1),
		})
	case commands.ChatCommandTopic:
		c.stateMu.Lock()
		c.topic = arg(1)
		c.stateMu.Unlock()
		return c.sendEvent(&TopicChangedEvent{SetBy: arg(0), Topic: arg(1)})
	case commands.ChatCommandJoin:
		return c.sendEvent(&UserJoinedEvent{UserName: arg(0)})
	case commands.ChatCommandPart:
		return c.sendEvent(&UserLeftEvent{UserName: arg(0)})
	case commands.ChatCommandUserCount:
		users, _ := strconv.Atoi(arg(0))
		maxUsers, _ := strconv.Atoi(arg(1))
		return c.sendEvent(&UserCountEvent{Users: users, MaxUsers: maxUsers})
	default:
		c.log.Debugf("Ignoring unknown chat notify: %v", cmd.Command)
	}
	return true
}

func (c *Client) onDisconnect(err error) {
	c.log.Debugf("Connection lost: %v", err)
	select {
	case c.EventSink <- &DisconnectedEvent{Err: err}:
	default:
	}
	go c.Shutdown()
}

// handshake drives the authentication exchange on the freshly dialed
// connection.  Bytes past the AuthReply stay buffered in c.dec for the
// receive worker, the server info burst follows immediately.
func (c *Client) handshake() error {
	c.c.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.c.SetDeadline(time.Time{})

	buf := make([]byte, 4096)
	readCommand := func() (commands.Command, error) {
		for {
			hdr, payload, err := c.dec.Next()
			if err != nil {
				return nil, err
			}
			if hdr != nil {
				return commands.FromServerBytes(hdr.MessageType, payload)
			}
			n, err := c.c.Read(buf)
			if err != nil {
				return nil, err
			}
			c.dec.Feed(buf[:n])
		}
	}

	rawCmd, err := readCommand()
	if err != nil {
		return err
	}
	challenge, ok := rawCmd.(*commands.AuthChallenge)
	if !ok {
		return fmt.Errorf("client: expected AuthChallenge, got %T", rawCmd)
	}

	auth := &commands.AuthUser{
		ProtocolVersion:    commands.ProtocolVersion,
		ClientCapabilities: commands.AuthClientAcceptedLicence,
	}
	if c.cfg.Password == "" {
		auth.UserName = commands.AnonymousPrefix + c.cfg.UserName
	} else {
		auth.UserName = c.cfg.UserName
		auth.PasswordHash = commands.ComputePasswordHash(c.cfg.UserName, c.cfg.Password, challenge.Challenge)
	}
	if err = c.sendCommand(auth); err != nil {
		return err
	}

	rawCmd, err = readCommand()
	if err != nil {
		return err
	}
	reply, ok := rawCmd.(*commands.AuthReply)
	if !ok {
		return fmt.Errorf("client: expected AuthReply, got %T", rawCmd)
	}
	if !reply.Accepted() {
		return fmt.Errorf("client: authentication rejected: %v", reply.Message)
	}

	c.stateMu.Lock()
	c.userName = reply.Message
	c.stateMu.Unlock()
	c.log.Noticef("Logged in as: %v", reply.Message)

	return nil
}

// Dial connects to the server, authenticates and starts the client
// workers.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("client: address '%v' is invalid: %v", cfg.Address, err)
	}

	c := &Client{
		cfg:       cfg,
		log:       cfg.LogBackend.GetLogger("client"),
		EventSink: make(chan interface{}, eventSinkDepth),
		dec:       new(wire.StreamDecoder),
		uploads:   make(map[uint8][commands.GUIDLength]byte),
	}

	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		d := new(net.Dialer)
		c.c, err = d.DialContext(ctx, u.Scheme, u.Host)
	case "quic":
		c.c, err = common.Dial(ctx, u.Host)
	default:
		return nil, fmt.Errorf("client: unsupported scheme '%v'", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if err = c.handshake(); err != nil {
		c.c.Close()
		return nil, err
	}

	c.Go(c.recvWorker)
	c.Go(c.keepAliveWorker)

	return c, nil
}
