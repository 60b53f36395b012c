// incoming_conn.go - Jam server incoming connection handler.
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

package incoming

import (
	"container/list"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/elieserdejesus/jamtaba/core/monotime"
	"github.com/elieserdejesus/jamtaba/server/internal/instrument"
	"github.com/elieserdejesus/jamtaba/server/internal/registry"
	"github.com/elieserdejesus/jamtaba/server/userdb"
	"github.com/elieserdejesus/jamtaba/wire"
	"github.com/elieserdejesus/jamtaba/wire/commands"
)

var incomingConnID uint64

const (
	sendQueueDepth = 256

	// maxLiveIntervals bounds the in-flight interval GUIDs tracked per
	// session.  A well behaved client carries at most one per channel.
	maxLiveIntervals = 32
)

type incomingConn struct {
	sync.Mutex

	l   *listener
	log *logging.Logger

	c net.Conn
	e *list.Element

	id uint64

	// Owned by worker().
	authenticated bool
	isAnonymous   bool
	challenge     [commands.ChallengeLength]byte
	liveGUIDs     map[[commands.GUIDLength]byte]uint8

	// Guarded by the Mutex, read by other sessions and the listener.
	userName string
	channels []commands.Channel
	masks    map[string]uint32

	lastRecv int64 // Monotime, accessed atomically.

	sendCh            chan commands.Command
	closeConnectionCh chan bool
	doneCh            chan interface{}
}

// UserName returns the unique user name, empty before authentication.
func (c *incomingConn) UserName() string {
	c.Lock()
	defer c.Unlock()

	return c.userName
}

func (c *incomingConn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// SendCommand enqueues cmd for transmission to the peer.  When the peer is
// too slow to keep up the command is dropped rather than stalling the
// sender's session.
func (c *incomingConn) SendCommand(cmd commands.Command) {
	select {
	case c.sendCh <- cmd:
	default:
		switch cmd.(type) {
		case *commands.DownloadIntervalBegin, *commands.DownloadIntervalWrite:
			instrument.ChunkDropped()
		}
		c.log.Debugf("Dropping command %T, send queue full.", cmd)
	}
}

// UserChannels returns the session's channel set as wire entries.
func (c *incomingConn) UserChannels() []commands.UserChannel {
	c.Lock()
	defer c.Unlock()

	entries := make([]commands.UserChannel, 0, len(c.channels))
	for i, ch := range c.channels {
		entries = append(entries, commands.UserChannel{
			Active:       true,
			ChannelIndex: uint8(i),
			Volume:       ch.Volume,
			Pan:          ch.Pan,
			Flags:        ch.Flags,
			UserName:     c.userName,
			ChannelName:  ch.Name,
		})
	}
	return entries
}

// WantsAudioFrom returns true when the session subscribed to the given
// channel of the named uploader.  Sessions that never sent a mask for the
// uploader receive everything.
func (c *incomingConn) WantsAudioFrom(userName string, channelIndex uint8) bool {
	c.Lock()
	defer c.Unlock()

	mask, ok := c.masks[userName]
	if !ok {
		return true
	}
	return mask&(1<<uint32(channelIndex)) != 0
}

// Close signals the connection's worker to tear the session down.
func (c *incomingConn) Close() {
	select {
	case c.closeConnectionCh <- true:
	default:
	}
}

func (c *incomingConn) lastActivity() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.lastRecv))
}

func (c *incomingConn) stampActivity() {
	atomic.StoreInt64(&c.lastRecv, int64(monotime.Now()))
}

// sendWorker serializes all writes to the peer.  Once doneCh is closed the
// remaining queue is drained under a short deadline so that terminal
// replies still reach the peer.
func (c *incomingConn) sendWorker() {
	defer c.c.Close()

	write := func(cmd commands.Command) bool {
		b := cmd.ToBytes()
		if _, err := c.c.Write(b); err != nil {
			c.log.Debugf("Failed to write command: %v", err)
			return false
		}
		instrument.BytesSent(uint64(len(b)))
		return true
	}

	for {
		select {
		case cmd := <-c.sendCh:
			if !write(cmd) {
				return
			}
		case <-c.doneCh:
			c.c.SetWriteDeadline(time.Now().Add(5 * time.Second))
			for {
				select {
				case cmd := <-c.sendCh:
					if !write(cmd) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// recvWorker reads from the peer, reassembles frames from however the
// bytes happen to arrive, and hands decoded commands to worker().
func (c *incomingConn) recvWorker(commandCh chan<- commands.Command, commandCloseCh <-chan interface{}) {
	defer close(commandCh)

	dec := new(wire.StreamDecoder)
	buf := make([]byte, 4096)
	for {
		n, err := c.c.Read(buf)
		if n > 0 {
			instrument.BytesReceived(uint64(n))
			dec.Feed(buf[:n])
		}
		for {
			hdr, payload, err := dec.Next()
			if err != nil {
				c.log.Debugf("Malformed frame: %v", err)
				return
			}
			if hdr == nil {
				break
			}
			cmd, err := commands.FromClientBytes(hdr.MessageType, payload)
			if err == commands.ErrUnknownMessageType {
				// The payload was already consumed, framing is
				// preserved.
				c.log.Debugf("Skipping unknown message type: 0x%02x", hdr.MessageType)
				continue
			}
			if err != nil {
				c.log.Debugf("Failed to decode message 0x%02x: %v", hdr.MessageType, err)
				return
			}
			select {
			case commandCh <- cmd:
			case <-commandCloseCh:
				return
			}
		}
		if err != nil {
			c.log.Debugf("Failed to read from peer: %v", err)
			return
		}
	}
}

func (c *incomingConn) worker() {
	defer func() {
		c.log.Debugf("Closing.")
		c.tearDownSession()
		close(c.doneCh) // Makes sendWorker() drain and close the conn.
		c.l.onClosedConn(c)
	}()

	go c.sendWorker()

	// Issue the challenge, the peer gets one handshake timeout to present
	// acceptable credentials.
	if _, err := rand.Read(c.challenge[:]); err != nil {
		c.log.Errorf("Failed to generate challenge: %v", err)
		return
	}
	handshakeTimeout := time.Duration(c.l.glue.Config().Debug.HandshakeTimeout) * time.Millisecond
	c.c.SetDeadline(time.Now().Add(handshakeTimeout))
	c.stampActivity()

	jam := c.l.glue.Jam()
	c.SendCommand(&commands.AuthChallenge{
		Challenge:        c.challenge,
		ProtocolVersion:  commands.ProtocolVersion,
		LicenceAgreement: jam.Licence(),
	})

	commandCh := make(chan commands.Command)
	commandCloseCh := make(chan interface{})
	defer close(commandCloseCh)
	go c.recvWorker(commandCh, commandCloseCh)

	keepAlivePeriod := time.Duration(c.l.glue.Config().Parameters.KeepAlivePeriod) * time.Second
	keepAlive := time.NewTicker(keepAlivePeriod)
	defer keepAlive.Stop()

	for {
		var rawCmd commands.Command
		var ok bool

		select {
		case <-c.l.closeAllCh:
			// Server is getting shutdown, all connections are being
			// closed.
			return
		case <-c.closeConnectionCh:
			c.log.Debugf("Disconnecting, session closed by server.")
			return
		case <-keepAlive.C:
			c.SendCommand(&commands.KeepAlive{})
			continue
		case rawCmd, ok = <-commandCh:
			if !ok {
				return
			}
		}

		c.stampActivity()
		instrument.IncomingMessage(fmt.Sprintf("%T", rawCmd))

		if !c.authenticated {
			cmd, ok := rawCmd.(*commands.AuthUser)
			if !ok {
				c.log.Debugf("Received %T before authentication.", rawCmd)
				return
			}
			if !c.onAuthUser(cmd) {
				return
			}
			// Handshake completed, drop the deadline.
			c.c.SetDeadline(time.Time{})
			continue
		}

		if !c.onCommand(rawCmd) {
			return
		}
	}

	// NOTREACHED
}

// onAuthUser validates the peer's credentials and, on success, pushes the
// initial server info burst and announces the join.
func (c *incomingConn) onAuthUser(cmd *commands.AuthUser) bool {
	jam := c.l.glue.Jam()

	reject := func(reason string) bool {
		c.log.Debugf("Rejecting authentication: %v", reason)
		instrument.AuthFailure()
		c.SendCommand(&commands.AuthReply{Flag: 0, Message: reason})
		return false
	}

	if cmd.ProtocolVersion&0xffff0000 != commands.ProtocolVersion&0xffff0000 {
		return reject("incompatible protocol version")
	}
	if jam.Licence() != "" && cmd.ClientCapabilities&commands.AuthClientAcceptedLicence == 0 {
		return reject("licence agreement not accepted")
	}

	name := cmd.UserName
	if commands.IsAnonymous(name) {
		name = commands.StripAnonymousPrefix(name)
	} else {
		db := c.l.glue.UserDB()
		if db == nil {
			return reject("server only accepts anonymous users")
		}
		if !db.IsValid(name, c.challenge, cmd.PasswordHash) {
			return reject("invalid username or password")
		}
	}
	name = sanitizeUserName(name)
	if name == "" {
		return reject("invalid username")
	}
	c.isAnonymous = commands.IsAnonymous(cmd.UserName)

	reg := c.l.glue.Registry()
	c.Lock()
	c.userName = name
	c.Unlock()
	assigned, err := reg.Register(c, name)
	if err == registry.ErrSessionFull {
		return reject("server is full")
	} else if err != nil {
		return reject("internal server error")
	}
	if assigned != name {
		c.Lock()
		c.userName = assigned
		c.Unlock()
		name = assigned
	}
	c.authenticated = true
	instrument.UserConnected()

	cfg := c.l.glue.Config()
	bpm, bpi := jam.Tempo()

	// The initial info burst, pushed exactly once per session.
	c.SendCommand(&commands.AuthReply{
		Flag:        1,
		Message:     name,
		MaxChannels: cfg.Parameters.MaxChannels,
	})
	c.SendCommand(&commands.ConfigChangeNotify{BPM: bpm, BPI: bpi})
	c.SendCommand(&commands.ChatNotify{
		Command: commands.ChatCommandTopic,
		Args:    []string{"", jam.Topic()},
	})
	roster := make([]commands.UserChannel, 0)
	for _, s := range reg.Sessions() {
		if s.UserName() == name {
			continue
		}
		roster = append(roster, s.UserChannels()...)
	}
	c.SendCommand(&commands.UserInfoChangeNotify{Channels: roster})

	// Announce the join to everyone else.
	reg.Broadcast(&commands.ChatNotify{
		Command: commands.ChatCommandJoin,
		Args:    []string{name},
	}, c)
	reg.Broadcast(&commands.ChatNotify{
		Command: commands.ChatCommandUserCount,
		Args:    []string{strconv.Itoa(reg.Count()), strconv.Itoa(int(cfg.Parameters.MaxUsers))},
	}, nil)

	c.log.Debugf("Authenticated user: %v", name)
	return true
}

func (c *incomingConn) onCommand(rawCmd commands.Command) bool {
	switch cmd := rawCmd.(type) {
	case *commands.KeepAlive:
		// Activity was already stamped, nothing else to do.
		return true
	case *commands.SetChannel:
		return c.onSetChannel(cmd)
	case *commands.SetUserMask:
		c.Lock()
		c.masks[cmd.UserName] = cmd.ChannelsMask
		c.Unlock()
		return true
	case *commands.UploadIntervalBegin:
		return c.onUploadIntervalBegin(cmd)
	case *commands.IntervalUploadWrite:
		return c.onIntervalUploadWrite(cmd)
	case *commands.ChatMessage:
		return c.onChatMessage(cmd)
	default:
		c.log.Debugf("Received unexpected command: %T", cmd)
		return false
	}
}

func (c *incomingConn) onSetChannel(cmd *commands.SetChannel) bool {
	maxChannels := int(c.l.glue.Config().Parameters.MaxChannels)

	c.Lock()
	notify := make([]commands.UserChannel, 0, len(cmd.Channels))
	removed := false
	for _, ch := range cmd.Channels {
		if ch.IsRemove() {
			for i, existing := range c.channels {
				if existing.Name == ch.Name {
					c.channels = append(c.channels[:i], c.channels[i+1:]...)
					notify = append(notify, commands.UserChannel{
						Active:       false,
						ChannelIndex: uint8(i),
						Flags:        ch.Flags,
						UserName:     c.userName,
						ChannelName:  ch.Name,
					})
					removed = true
					break
				}
			}
			continue
		}
		idx := -1
		for i, existing := range c.channels {
			if existing.Name == ch.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			if len(c.channels) >= maxChannels {
				c.log.Debugf("Ignoring channel '%v' past the channel limit.", ch.Name)
				continue
			}
			c.channels = append(c.channels, ch)
			idx = len(c.channels) - 1
		} else {
			c.channels[idx] = ch
		}
		if removed {
			continue
		}
		notify = append(notify, commands.UserChannel{
			Active:       true,
			ChannelIndex: uint8(idx),
			Volume:       ch.Volume,
			Pan:          ch.Pan,
			Flags:        ch.Flags,
			UserName:     c.userName,
			ChannelName:  ch.Name,
		})
	}
	if removed {
		// Removal shifts the indices of the surviving channels, so the
		// full surviving set is re-announced with its new numbering.
		for i, ch := range c.channels {
			notify = append(notify, commands.UserChannel{
				Active:       true,
				ChannelIndex: uint8(i),
				Volume:       ch.Volume,
				Pan:          ch.Pan,
				Flags:        ch.Flags,
				UserName:     c.userName,
				ChannelName:  ch.Name,
			})
		}
	}
	c.Unlock()

	// Channel changes go to everyone but the originating session.
	c.l.glue.Registry().Broadcast(&commands.UserInfoChangeNotify{Channels: notify}, c)
	return true
}

func (c *incomingConn) onUploadIntervalBegin(cmd *commands.UploadIntervalBegin) bool {
	if _, ok := c.liveGUIDs[cmd.GUID]; ok {
		// Duplicate Begin for an in-flight interval, drop it and keep
		// the session alive.
		c.log.Debugf("Dropping duplicate interval begin: %x", cmd.GUID)
		instrument.ChunkDropped()
		return true
	}
	if len(c.liveGUIDs) >= maxLiveIntervals {
		c.log.Debugf("Dropping interval begin, too many in flight: %x", cmd.GUID)
		instrument.ChunkDropped()
		return true
	}
	c.liveGUIDs[cmd.GUID] = cmd.ChannelIndex

	c.relayAudio(cmd.ChannelIndex, &commands.DownloadIntervalBegin{
		GUID:          cmd.GUID,
		EstimatedSize: cmd.EstimatedSize,
		FourCC:        cmd.FourCC,
		ChannelIndex:  cmd.ChannelIndex,
		UserName:      c.UserName(),
	})
	return true
}

func (c *incomingConn) onIntervalUploadWrite(cmd *commands.IntervalUploadWrite) bool {
	channelIndex, ok := c.liveGUIDs[cmd.GUID]
	if !ok {
		// Write without a matching Begin, recoverable.
		c.log.Debugf("Dropping interval write for unknown GUID: %x", cmd.GUID)
		instrument.ChunkDropped()
		return true
	}
	if cmd.IsLastPart {
		delete(c.liveGUIDs, cmd.GUID)
	}

	c.relayAudio(channelIndex, &commands.DownloadIntervalWrite{
		GUID:        cmd.GUID,
		IsLastPart:  cmd.IsLastPart,
		EncodedData: cmd.EncodedData,
	})
	return true
}

// relayAudio forwards an interval command to every other session that
// subscribed to the given channel of this session's user.
func (c *incomingConn) relayAudio(channelIndex uint8, cmd commands.Command) {
	from := c.UserName()
	for _, s := range c.l.glue.Registry().Sessions() {
		if s.UserName() == from {
			continue
		}
		if !s.WantsAudioFrom(from, channelIndex) {
			continue
		}
		s.SendCommand(cmd)
	}
}

func (c *incomingConn) onChatMessage(cmd *commands.ChatMessage) bool {
	reg := c.l.glue.Registry()
	from := c.UserName()

	switch cmd.Kind {
	case commands.GenericMessage:
		reg.Broadcast(&commands.ChatNotify{
			Command: commands.ChatCommandMsg,
			Args:    []string{from, cmd.Text},
		}, nil)
	case commands.PrivateMessage:
		notify := &commands.ChatNotify{
			Command: commands.ChatCommandPrivMsg,
			Args:    []string{from, cmd.Text},
		}
		if !reg.SendTo(cmd.Recipient, notify) {
			c.serverMessage(fmt.Sprintf("no such user: %v", cmd.Recipient))
		}
	case commands.TopicMessage:
		if c.isAnonymous {
			c.serverMessage("not authorized to change the topic")
			return true
		}
		c.l.glue.Jam().SetTopic(cmd.Text, from)
	case commands.AdminMessage:
		c.onAdminCommand(cmd.Text)
	default:
		c.log.Debugf("Received chat message of unknown kind: %v", cmd.Kind)
	}
	return true
}

// onAdminCommand applies an in-band admin chat command.  Only registered
// users are authorized.
func (c *incomingConn) onAdminCommand(text string) {
	if c.isAnonymous {
		c.serverMessage("not authorized")
		return
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		c.serverMessage("empty admin command")
		return
	}
	jam := c.l.glue.Jam()
	switch strings.ToLower(fields[0]) {
	case "topic":
		jam.SetTopic(strings.TrimSpace(strings.TrimPrefix(text, fields[0])), c.UserName())
	case "bpm":
		if len(fields) != 2 {
			c.serverMessage("usage: bpm <value>")
			return
		}
		v, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			c.serverMessage(fmt.Sprintf("invalid bpm: %v", fields[1]))
			return
		}
		_, bpi := jam.Tempo()
		jam.SetTempo(uint16(v), bpi)
	case "bpi":
		if len(fields) != 2 {
			c.serverMessage("usage: bpi <value>")
			return
		}
		v, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			c.serverMessage(fmt.Sprintf("invalid bpi: %v", fields[1]))
			return
		}
		bpm, _ := jam.Tempo()
		jam.SetTempo(bpm, uint16(v))
	case "kick":
		if len(fields) != 2 {
			c.serverMessage("usage: kick <user>")
			return
		}
		kicked := false
		for _, l := range c.l.glue.Listeners() {
			if l.KickUser(fields[1]) {
				kicked = true
				break
			}
		}
		if !kicked {
			c.serverMessage(fmt.Sprintf("no such user: %v", fields[1]))
		}
	default:
		c.serverMessage(fmt.Sprintf("unknown admin command: %v", fields[0]))
	}
}

// serverMessage sends an out-of-band server notice to this session only.
func (c *incomingConn) serverMessage(text string) {
	c.SendCommand(&commands.ChatNotify{
		Command: commands.ChatCommandMsg,
		Args:    []string{"", text},
	})
}

// tearDownSession unregisters the session and announces the part.  Safe to
// call for sessions that never authenticated.
func (c *incomingConn) tearDownSession() {
	if !c.authenticated {
		return
	}
	name := c.UserName()
	reg := c.l.glue.Registry()
	reg.Unregister(c)
	instrument.UserDisconnected()

	c.Lock()
	parted := make([]commands.UserChannel, 0, len(c.channels))
	for i, ch := range c.channels {
		parted = append(parted, commands.UserChannel{
			Active:       false,
			ChannelIndex: uint8(i),
			UserName:     name,
			ChannelName:  ch.Name,
		})
	}
	c.Unlock()

	if len(parted) != 0 {
		reg.Broadcast(&commands.UserInfoChangeNotify{Channels: parted}, nil)
	}
	reg.Broadcast(&commands.ChatNotify{
		Command: commands.ChatCommandPart,
		Args:    []string{name},
	}, nil)
	reg.Broadcast(&commands.ChatNotify{
		Command: commands.ChatCommandUserCount,
		Args: []string{
			strconv.Itoa(reg.Count()),
			strconv.Itoa(int(c.l.glue.Config().Parameters.MaxUsers)),
		},
	}, nil)
}

func sanitizeUserName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\x00", "")
	if len(name) > userdb.MaxUsernameSize {
		name = name[:userdb.MaxUsernameSize]
	}
	return name
}

func newIncomingConn(l *listener, conn net.Conn) *incomingConn {
	c := &incomingConn{
		l:                 l,
		c:                 conn,
		id:                atomic.AddUint64(&incomingConnID, 1), // Diagnostic only.
		liveGUIDs:         make(map[[commands.GUIDLength]byte]uint8),
		masks:             make(map[string]uint32),
		sendCh:            make(chan commands.Command, sendQueueDepth),
		closeConnectionCh: make(chan bool, 1),
		doneCh:            make(chan interface{}),
	}
	c.log = l.glue.LogBackend().GetLogger(fmt.Sprintf("incoming:%d", c.id))
	c.stampActivity()

	return c
}
