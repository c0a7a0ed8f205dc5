package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/voicelark/voicelark/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const inputChannelBuffer = 64

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. It demuxes incoming Opus packets by SSRC,
// resolves SSRCs to user IDs via VoiceSpeakingUpdate events, decodes Opus to
// PCM per-participant input streams, and paces outgoing PCM through the Opus
// encoder in real time.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	session   *discordgo.Session
	guildID   string
	channelID string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.Frame // keyed by user ID
	ssrcUser map[uint32]string           // SSRC -> userID, from VoiceSpeakingUpdate

	// playMu serialises Play calls so interleaved callers cannot corrupt the
	// outgoing frame stream.
	playMu sync.Mutex

	changeMu sync.Mutex
	changeCb func(audio.Event)

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	removeStateHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC tears down the underlying voice connection on Leave.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string) (*Connection, error) {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		channelID:    channelID,
		inputs:       make(map[string]chan audio.Frame),
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	// Speaking updates carry the SSRC -> user ID mapping; without them
	// incoming packets can only be attributed to an anonymous SSRC.
	vc.AddHandler(c.handleSpeakingUpdate)

	// Voice state updates detect participants joining and leaving the channel.
	c.removeStateHandler = session.AddHandler(c.handleVoiceStateUpdate)

	go c.recvLoop()

	return c, nil
}

// InputStreams returns a snapshot of the current per-participant audio
// channels, keyed by user ID.
func (c *Connection) InputStreams() map[string]<-chan audio.Frame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snap := make(map[string]<-chan audio.Frame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// Play encodes pcm (48 kHz stereo interleaved int16, little-endian) to Opus
// and transmits it at real-time pace, one 20 ms frame per tick. It returns
// when the buffer has been fully sent, ctx is cancelled, or the connection
// is torn down.
func (c *Connection) Play(ctx context.Context, pcm []byte) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("discord: play: connection closed")
	default:
	}

	enc, err := newOpusEncoder()
	if err != nil {
		return fmt.Errorf("discord: play: %w", err)
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)

	// Pad the tail so the final partial frame still encodes cleanly.
	if rem := len(pcm) % opusFrameBytes; rem != 0 {
		pcm = append(pcm, make([]byte, opusFrameBytes-rem)...)
	}

	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += opusFrameBytes {
		opus, err := enc.encode(pcm[off : off+opusFrameBytes])
		if err != nil {
			return fmt.Errorf("discord: play: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("discord: play: connection closed")
		case <-ticker.C:
		}

		select {
		case c.vc.OpusSend <- opus:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("discord: play: connection closed")
		}
	}
	return nil
}

// PlaybackFormat reports the PCM format Play expects: 48 kHz stereo, the
// format Discord voice transmits.
func (c *Connection) PlaybackFormat() audio.Format {
	return audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}
}

// Participants returns the current roster of the voice channel, derived from
// the guild's cached voice states.
func (c *Connection) Participants() []audio.Participant {
	guild, err := c.session.State.Guild(c.guildID)
	if err != nil {
		slog.Warn("discord: guild state lookup failed", "guild_id", c.guildID, "error", err)
		return nil
	}

	var out []audio.Participant
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != c.channelID {
			continue
		}
		out = append(out, c.participantFor(vs.UserID))
	}
	return out
}

// participantFor resolves a user ID to a Participant using the state cache,
// falling back to the bare ID when the member is not cached.
func (c *Connection) participantFor(userID string) audio.Participant {
	p := audio.Participant{UserID: userID, DisplayName: userID}
	member, err := c.session.State.Member(c.guildID, userID)
	if err != nil || member == nil || member.User == nil {
		return p
	}
	p.DisplayName = member.User.Username
	if member.Nick != "" {
		p.DisplayName = member.Nick
	}
	p.Bot = member.User.Bot
	return p
}

// OnParticipantChange registers cb as the callback for participant join/leave
// events. Only one callback may be registered; subsequent calls replace the
// previous one.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Leave cleanly tears down the voice connection and stops all background
// goroutines. It is safe to call more than once; subsequent calls return the
// error from the first.
func (c *Connection) Leave() error {
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeStateHandler != nil {
			c.removeStateHandler()
		}

		if c.disconnectVC != nil {
			c.closeErr = c.disconnectVC()
		}

		// Close all input channels so downstream consumers see EOF.
		c.inputsMu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return c.closeErr
}

// recvLoop reads Opus packets from the Discord voice connection, demuxes them
// by SSRC, decodes Opus to PCM, and delivers Frames to per-participant channels.
func (c *Connection) recvLoop() {
	// Each SSRC gets its own decoder to maintain state across frames.
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			userID := c.userForSSRC(pkt.SSRC)

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "user_id", userID, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "user_id", userID, "error", err)
				continue
			}

			c.deliver(userID, audio.Frame{
				PCM:        pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
			})
		}
	}
}

// userForSSRC resolves an SSRC to a user ID, falling back to the SSRC's
// decimal form when no speaking update has mapped it yet.
func (c *Connection) userForSSRC(ssrc uint32) string {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	if userID, ok := c.ssrcUser[ssrc]; ok {
		return userID
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

// deliver hands a decoded frame to the participant's input channel, creating
// it on first use. The non-blocking send happens with inputsMu held so the
// leave handler cannot close the channel mid-send.
func (c *Connection) deliver(userID string, frame audio.Frame) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	ch, ok := c.inputs[userID]
	if !ok {
		ch = make(chan audio.Frame, inputChannelBuffer)
		c.inputs[userID] = ch
	}
	select {
	case ch <- frame:
	default:
		// Channel full — drop the frame rather than block.
	}
}

// inputFor returns the input channel for userID, creating it if necessary.
func (c *Connection) inputFor(userID string) chan audio.Frame {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	ch, ok := c.inputs[userID]
	if !ok {
		ch = make(chan audio.Frame, inputChannelBuffer)
		c.inputs[userID] = ch
	}
	return ch
}

// handleSpeakingUpdate records the SSRC -> user ID mapping Discord announces
// when a participant starts or stops transmitting.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	c.inputsMu.Lock()
	c.ssrcUser[uint32(su.SSRC)] = su.UserID
	c.inputsMu.Unlock()
}

// handleVoiceStateUpdate processes Discord VoiceStateUpdate events to detect
// participant joins and leaves for the voice channel this connection is on.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}

	// Participant left our channel.
	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == c.channelID && vsu.ChannelID != c.channelID {
		c.emitEvent(audio.Event{
			Type:        audio.EventLeave,
			Participant: c.participantFor(vsu.UserID),
		})

		// Close the leaver's input stream so downstream aggregation
		// sees EOF for that participant.
		c.inputsMu.Lock()
		if ch, ok := c.inputs[vsu.UserID]; ok {
			close(ch)
			delete(c.inputs, vsu.UserID)
		}
		c.inputsMu.Unlock()
		return
	}

	// Participant joined our channel.
	if vsu.ChannelID == c.channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != c.channelID) {
		c.emitEvent(audio.Event{
			Type:        audio.EventJoin,
			Participant: c.participantFor(vsu.UserID),
		})
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

// emitEvent safely invokes the registered participant change callback.
func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
