package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/vad"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	provider "github.com/MrWong99/earshot/pkg/provider/vad"
)

// Timing defaults. The initial-speech timeout and the hard silence ceiling
// are not user-configurable; the options exist for tests.
const (
	DefaultInitialTimeout = 5 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultHardCeiling    = 5 * time.Second
	DefaultCooldown       = 300 * time.Millisecond
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultMaxUtterance   = 60 * time.Second
)

// scoreBacklog bounds analysis frames waiting for the detector. Frames beyond
// it are dropped rather than delaying capture.
const scoreBacklog = 8

var errCaptureEnded = errors.New("speech: capture stream ended")

// Option configures a [Controller].
type Option func(*Controller)

// WithRecognizer streams every session's audio to p. cfg.Channels is forced
// to 1; a zero cfg.SampleRate is taken from the pre-roll buffer.
func WithRecognizer(p stt.Provider, cfg stt.StreamConfig) Option {
	return func(c *Controller) {
		c.rec = p
		c.recCfg = cfg
	}
}

// WithCorrector applies c to recognized transcripts. Typed input from
// [Controller.Submit] is sent as written.
func WithCorrector(cr Corrector) Option {
	return func(c *Controller) { c.corr = cr }
}

// WithInterrupter enables barge-in towards i.
func WithInterrupter(i Interrupter) Option {
	return func(c *Controller) { c.intr = i }
}

// WithPreRoll sets the pre-roll buffer. Without it pre-roll is disabled.
func WithPreRoll(p *audio.PreRoll) Option {
	return func(c *Controller) { c.preroll = p }
}

// WithMode sets what sessions submit. Defaults to [ModeText].
func WithMode(m Mode) Option {
	return func(c *Controller) { c.mode = m }
}

// WithAutoSubmit sets the silence after which a non-empty utterance is
// submitted. Zero disables auto-submit; the hard ceiling still applies.
func WithAutoSubmit(d time.Duration) Option {
	return func(c *Controller) { c.autoSubmit = d }
}

// WithBargeIn interrupts system speech when the user starts talking.
func WithBargeIn(enabled bool) Option {
	return func(c *Controller) { c.bargeIn = enabled }
}

// WithFrameSamples regroups captured audio into analysis frames of n mono
// samples before scoring. Zero scores each captured chunk as delivered.
func WithFrameSamples(n int) Option {
	return func(c *Controller) { c.frameSamples = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithOnEnd registers fn to receive a [Report] for every finished session,
// including sessions that failed to start. fn runs synchronously and must
// not call back into the controller.
func WithOnEnd(fn func(Report)) Option {
	return func(c *Controller) { c.onEnd = fn }
}

// WithInitialTimeout overrides [DefaultInitialTimeout].
func WithInitialTimeout(d time.Duration) Option {
	return func(c *Controller) { c.initialTimeout = d }
}

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithHardCeiling overrides [DefaultHardCeiling].
func WithHardCeiling(d time.Duration) Option {
	return func(c *Controller) { c.hardCeiling = d }
}

// WithCooldown overrides [DefaultCooldown].
func WithCooldown(d time.Duration) Option {
	return func(c *Controller) { c.cooldown = d }
}

// WithSettleDelay overrides [DefaultSettleDelay].
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// WithMaxUtterance caps captured speech audio. Audio beyond the cap is
// discarded; the session keeps running.
func WithMaxUtterance(d time.Duration) Option {
	return func(c *Controller) { c.maxUtterance = d }
}

// Controller runs listening sessions. All exported methods are safe for
// concurrent use.
type Controller struct {
	src     audio.Source
	det     Detector
	sub     Submitter
	intr    Interrupter
	rec     stt.Provider
	recCfg  stt.StreamConfig
	corr    Corrector
	preroll *audio.PreRoll
	metrics *observe.Metrics
	onEnd   func(Report)

	frameSamples   int
	initialTimeout time.Duration
	pollInterval   time.Duration
	hardCeiling    time.Duration
	cooldown       time.Duration
	settle         time.Duration
	maxUtterance   time.Duration

	mu            sync.Mutex
	phase         Phase
	sess          *session
	last          *session
	starting      bool
	closed        bool
	mode          Mode
	autoSubmit    time.Duration
	bargeIn       bool
	inFlight      bool
	cooldownTimer *time.Timer
	settled       chan struct{} // non-nil while the settle delay runs
	settleTimer   *time.Timer
}

// New returns an idle controller capturing from src, scoring with det and
// submitting to sub.
func New(src audio.Source, det Detector, sub Submitter, opts ...Option) *Controller {
	c := &Controller{
		src:            src,
		det:            det,
		sub:            sub,
		mode:           ModeText,
		initialTimeout: DefaultInitialTimeout,
		pollInterval:   DefaultPollInterval,
		hardCeiling:    DefaultHardCeiling,
		cooldown:       DefaultCooldown,
		settle:         DefaultSettleDelay,
		maxUtterance:   DefaultMaxUtterance,
	}
	for _, o := range opts {
		o(c)
	}
	if c.preroll == nil {
		c.preroll = audio.NewPreRoll(false, 0, provider.ModelSampleRate)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start begins a new listening session. If the previous session is still
// settling, Start waits for the settle delay to pass (or ctx to end). The
// session itself is not bound to ctx; it runs until it ends or [Controller.Stop].
func (c *Controller) Start(ctx context.Context) error {
	if err := c.waitSettled(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sess != nil || c.starting || c.settled != nil {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.starting = true
	last := c.last
	c.mu.Unlock()

	started := false
	defer func() {
		if !started {
			c.mu.Lock()
			c.starting = false
			c.mu.Unlock()
		}
	}()

	// The previous session's scorer must be quiet before the detector is reset.
	if last != nil {
		<-last.done
	}

	id := uuid.NewString()
	now := time.Now()

	frames, err := c.src.Start(ctx)
	if err != nil {
		slog.Error("speech: capture unavailable", "session_id", id, "err", err)
		err = fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		c.metrics.RecordSessionEnd(ctx, string(OutcomeCaptureError), 0)
		c.report(Report{SessionID: id, StartedAt: now, EndedAt: time.Now(), Outcome: OutcomeCaptureError, Err: err})
		return err
	}

	c.det.Reset()
	c.preroll.Reset()

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:        id,
		epoch:     c.det.Epoch(),
		startedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if c.rec != nil {
		cfg := c.recCfg
		cfg.Channels = 1
		if cfg.SampleRate == 0 {
			cfg.SampleRate = c.preroll.SampleRate()
		}
		rec, err := c.rec.StartStream(sctx, cfg)
		if err != nil {
			cancel()
			if stopErr := c.src.Stop(); stopErr != nil {
				slog.Warn("speech: stop capture", "session_id", id, "err", stopErr)
			}
			slog.Error("speech: recognizer unavailable", "session_id", id, "err", err)
			err = fmt.Errorf("speech: start recognizer: %w", err)
			c.metrics.RecordSessionEnd(ctx, string(OutcomeRecognizerError), 0)
			c.report(Report{SessionID: id, StartedAt: now, EndedAt: time.Now(), Outcome: OutcomeRecognizerError, Err: err})
			return err
		}
		s.rec = rec
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = c.src.Stop()
		if s.rec != nil {
			_ = s.rec.Close()
		}
		return ErrClosed
	}
	c.sess = s
	c.last = s
	c.starting = false
	c.phase = PhaseListening
	c.mu.Unlock()
	started = true

	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("speech: listening", "session_id", id, "preroll", c.preroll.Enabled())

	go c.run(sctx, s, frames)
	return nil
}

// Stop ends the active session, releases the capture device and arms the
// settle delay. It returns once the session goroutine has exited. Stop on an
// idle controller is a no-op.
func (c *Controller) Stop() {
	c.stopSession(OutcomeStopped)
}

// Submit sends typed text as a manual utterance. System speech is
// interrupted first. An active listening session is latched so it cannot
// submit as well, and ends once the text is sent.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		c.metrics.RecordSubmission(ctx, string(ModeText), "empty")
		return ErrEmptyTranscript
	}

	if c.intr != nil {
		c.intr.Interrupt()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		c.metrics.RecordSubmission(ctx, string(ModeText), "suppressed")
		return ErrSubmitInFlight
	}
	s := c.sess
	if s != nil {
		if s.submitted {
			c.mu.Unlock()
			c.metrics.RecordSubmission(ctx, string(ModeText), "suppressed")
			return ErrSubmitInFlight
		}
		s.submitted = true
		c.phase = PhaseSubmitting
	}
	c.mu.Unlock()

	u := Utterance{Text: text, Manual: true}
	if s != nil {
		u.SessionID = s.id
	}
	err := c.send(ctx, u)
	if s != nil {
		s.cancel()
		<-s.done
		c.end(s, OutcomeSubmitted, err)
	}
	return err
}

// SetPreRoll reconfigures the pre-roll buffer. A change clears any buffered
// audio and, when a session is active, restarts it so one utterance never
// mixes audio recorded under two settings. The restart waits for the settle
// delay.
func (c *Controller) SetPreRoll(ctx context.Context, enabled bool, d time.Duration) error {
	if !c.preroll.Reconfigure(enabled, d) {
		return nil
	}
	slog.Info("speech: pre-roll reconfigured", "enabled", enabled, "duration", c.preroll.Duration())
	if !c.stopSession(OutcomeStopped) {
		return nil
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("speech: restart after pre-roll change: %w", err)
	}
	return nil
}

// SetAutoSubmit changes the auto-submit timeout. Zero disables it.
func (c *Controller) SetAutoSubmit(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoSubmit = d
}

// SetBargeIn toggles barge-in.
func (c *Controller) SetBargeIn(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bargeIn = enabled
}

// SetMode changes what future submissions carry.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// BargeIn reports whether barge-in is enabled.
func (c *Controller) BargeIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bargeIn
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Idle reports whether a new session could start right now.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.sess == nil && !c.starting && c.settled == nil
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Phase: c.phase}
	if s := c.sess; s != nil {
		st.SessionID = s.id
		st.SpeechDetected = s.speechDetected
		st.Transcript = s.transcriptLocked()
		st.StartedAt = s.startedAt
		st.LastSpeechAt = s.lastSpeechAt
	}
	return st
}

// Close stops the active session and cancels the settle and cool-down
// timers. Further calls to Start and Submit return [ErrClosed].
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.sess
	c.mu.Unlock()

	if s != nil {
		s.cancel()
		<-s.done
		c.end(s, OutcomeStopped, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
		c.cooldownTimer = nil
	}
	c.inFlight = false
	c.phase = PhaseIdle
	return nil
}

// ─── session goroutine ───────────────────────────────────────────────────────

func (c *Controller) run(ctx context.Context, s *session, frames <-chan audio.Frame) {
	defer close(s.done)

	scoreIn := make(chan audio.Frame, scoreBacklog)
	results := make(chan vad.Result, scoreBacklog)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.scoreLoop(ctx, scoreIn, results)
	}()
	defer func() {
		s.cancel()
		close(scoreIn)
		wg.Wait()
	}()

	initial := time.NewTimer(c.initialTimeout)
	defer initial.Stop()
	poll := time.NewTicker(c.pollInterval)
	defer poll.Stop()

	var framer *audio.Framer
	if c.frameSamples > 0 {
		framer = audio.NewFramer(c.frameSamples)
	}
	var events <-chan stt.Event
	if s.rec != nil {
		events = s.rec.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				c.end(s, OutcomeCaptureError, errCaptureEnded)
				return
			}
			c.capture(s, f, framer, scoreIn)
		case r := <-results:
			c.classify(s, r)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if c.recognize(s, ev) {
				return
			}
		case <-initial.C:
			if c.noSpeech(s) {
				return
			}
		case now := <-poll.C:
			if c.checkSilence(ctx, s, now) {
				return
			}
		}
	}
}

// scoreLoop runs the detector off the capture path.
func (c *Controller) scoreLoop(ctx context.Context, in <-chan audio.Frame, out chan<- vad.Result) {
	for f := range in {
		if ctx.Err() != nil {
			continue
		}
		r := c.det.Score(ctx, f)
		select {
		case out <- r:
		case <-ctx.Done():
		}
	}
}

// capture buffers a captured chunk, forwards it to the recognizer and queues
// analysis frames for scoring.
func (c *Controller) capture(s *session, f audio.Frame, framer *audio.Framer, scoreIn chan<- audio.Frame) {
	mono := f.Mono()
	if len(mono) == 0 {
		return
	}

	c.preroll.Write(mono)
	c.mu.Lock()
	if s.sampleRate == 0 {
		s.sampleRate = f.SampleRate
	}
	if s.speechDetected {
		c.appendAudioLocked(s, mono)
	}
	c.mu.Unlock()

	if s.rec != nil {
		if err := s.rec.SendAudio(audio.EncodePCM16(mono)); err != nil {
			slog.Debug("speech: recognizer send failed", "session_id", s.id, "err", err)
		}
	}

	chunks := [][]float32{mono}
	if framer != nil {
		chunks = framer.Push(mono)
	}
	for _, ch := range chunks {
		af := audio.Frame{Samples: ch, SampleRate: f.SampleRate, Channels: 1, Timestamp: f.Timestamp}
		select {
		case scoreIn <- af:
		default:
			slog.Debug("speech: detector backlog full, dropping frame", "session_id", s.id)
		}
	}
}

// classify applies one detector result to the session. A failed score holds
// the last probability and never counts as fresh speech, so the silence
// deadlines keep running while the scorer is down.
func (c *Controller) classify(s *session, r vad.Result) {
	if r.Stale || r.Epoch != s.epoch {
		return
	}
	if r.Speaking && r.Err == nil {
		c.speechHeard(s)
		return
	}
	c.mu.Lock()
	if !s.ended && c.phase == PhaseSpeechDetected {
		c.phase = PhaseSilence
	}
	c.mu.Unlock()
}

// recognize applies one recognizer event. It reports whether the session
// ended.
func (c *Controller) recognize(s *session, ev stt.Event) bool {
	switch ev.Type {
	case stt.EventSpeechStart:
		c.speechHeard(s)
	case stt.EventResult:
		c.mu.Lock()
		words := s.applyResultLocked(ev)
		c.mu.Unlock()
		if words {
			c.speechHeard(s)
		}
	case stt.EventSpeechEnd:
		c.mu.Lock()
		if !s.ended && c.phase == PhaseSpeechDetected {
			c.phase = PhaseSilence
		}
		c.mu.Unlock()
	case stt.EventError:
		slog.Warn("speech: recognizer failed", "session_id", s.id, "err", ev.Err)
		c.end(s, OutcomeRecognizerError, ev.Err)
		return true
	}
	return false
}

// speechHeard marks speech at the current instant and triggers barge-in.
func (c *Controller) speechHeard(s *session) {
	now := time.Now()
	c.mu.Lock()
	if s.ended || s.submitted {
		c.mu.Unlock()
		return
	}
	if !s.speechDetected {
		s.speechDetected = true
		s.audio = c.preroll.Snapshot()
		slog.Debug("speech: speech detected", "session_id", s.id, "preroll_samples", len(s.audio))
	}
	s.lastSpeechAt = now
	c.phase = PhaseSpeechDetected
	barge := c.bargeIn && c.intr != nil
	c.mu.Unlock()

	// Interrupt before anything else reacts to the new speech.
	if barge && c.intr.Busy() {
		slog.Info("speech: barge-in, interrupting playback", "session_id", s.id)
		c.intr.Interrupt()
	}
}

// noSpeech ends the session when the initial-speech timeout fires before
// any speech was heard. A session latched by a manual submission is left to
// [Controller.Submit].
func (c *Controller) noSpeech(s *session) bool {
	c.mu.Lock()
	busy := s.speechDetected || s.submitted
	c.mu.Unlock()
	if busy {
		return false
	}
	slog.Info("speech: no speech detected", "session_id", s.id, "timeout", c.initialTimeout)
	c.end(s, OutcomeNoSpeech, nil)
	return true
}

// checkSilence evaluates both silence deadlines. It reports whether the
// session ended.
func (c *Controller) checkSilence(ctx context.Context, s *session, now time.Time) bool {
	c.mu.Lock()
	if !s.speechDetected || s.submitted || s.ended {
		c.mu.Unlock()
		return false
	}
	silent := now.Sub(s.lastSpeechAt)
	auto := c.autoSubmit
	content := c.hasContentLocked(s)
	c.mu.Unlock()

	switch {
	case silent >= c.hardCeiling:
		if !content {
			slog.Info("speech: silence ceiling reached with nothing to submit", "session_id", s.id)
			c.end(s, OutcomeLongSilence, nil)
			return true
		}
		return c.submitSession(ctx, s, "silence_ceiling")
	case auto > 0 && silent >= auto && content:
		return c.submitSession(ctx, s, "auto_submit")
	}
	return false
}

// submitSession latches the session, submits its content and ends it.
func (c *Controller) submitSession(ctx context.Context, s *session, trigger string) bool {
	c.mu.Lock()
	if s.submitted || s.ended {
		c.mu.Unlock()
		return false
	}
	s.submitted = true
	c.phase = PhaseSubmitting
	u := c.utteranceLocked(s)
	c.mu.Unlock()

	if c.corr != nil && u.Text != "" {
		u.Text = c.corr.Correct(u.Text)
	}
	slog.Info("speech: submitting", "session_id", s.id, "trigger", trigger,
		"text_len", len(u.Text), "audio", u.HasAudio())
	err := c.send(ctx, u)
	if err != nil {
		slog.Warn("speech: submission failed", "session_id", s.id, "err", err)
	}
	c.end(s, OutcomeSubmitted, err)
	return true
}

// send hands u to the submitter, guarded by the in-flight latch and the
// cool-down that follows every submission.
func (c *Controller) send(ctx context.Context, u Utterance) error {
	mode := string(ModeText)
	if u.HasAudio() {
		mode = string(ModeAudio)
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.metrics.RecordSubmission(ctx, mode, "suppressed")
		return ErrSubmitInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "speech.submit",
		trace.WithAttributes(
			attribute.String("session_id", u.SessionID),
			attribute.String("mode", mode),
			attribute.Bool("manual", u.Manual),
		),
	)
	err := c.sub.Submit(ctx, u)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	c.metrics.RecordSubmission(ctx, mode, status)

	c.mu.Lock()
	if c.closed {
		c.inFlight = false
	} else {
		c.cooldownTimer = time.AfterFunc(c.cooldown, func() {
			c.mu.Lock()
			c.inFlight = false
			c.cooldownTimer = nil
			c.mu.Unlock()
		})
	}
	c.mu.Unlock()
	return err
}

// end tears down s exactly once: capture, recognizer, detector and pre-roll
// are released, the outcome is reported and the settle delay is armed.
func (c *Controller) end(s *session, outcome Outcome, cause error) {
	c.mu.Lock()
	if s.ended {
		c.mu.Unlock()
		return
	}
	s.ended = true
	if c.sess == s {
		c.sess = nil
	}
	if outcome == OutcomeSubmitted {
		c.phase = PhaseSubmitting
	} else {
		c.phase = PhaseAborting
	}
	settled := make(chan struct{})
	c.settled = settled
	ended := time.Now()
	rep := Report{
		SessionID:     s.id,
		StartedAt:     s.startedAt,
		EndedAt:       ended,
		Outcome:       outcome,
		Transcript:    s.transcriptLocked(),
		AudioDuration: s.audioDurationLocked(),
		Err:           cause,
	}
	c.mu.Unlock()

	s.cancel()
	if err := c.src.Stop(); err != nil {
		slog.Warn("speech: stop capture", "session_id", s.id, "err", err)
	}
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			slog.Warn("speech: close recognizer", "session_id", s.id, "err", err)
		}
	}
	c.det.Reset()
	c.preroll.Reset()

	ctx := context.Background()
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.metrics.RecordSessionEnd(ctx, string(outcome), ended.Sub(s.startedAt))
	slog.Info("speech: session ended", "session_id", s.id, "outcome", outcome,
		"duration", ended.Sub(s.startedAt), "err", cause)
	c.report(rep)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		if c.settled == settled {
			c.settled = nil
			c.phase = PhaseIdle
			close(settled)
		}
		return
	}
	c.settleTimer = time.AfterFunc(c.settle, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.settled != settled {
			return
		}
		c.settled = nil
		c.settleTimer = nil
		c.phase = PhaseIdle
		close(settled)
	})
}

// stopSession ends the active session with outcome. It reports whether a
// session was running.
func (c *Controller) stopSession(outcome Outcome) bool {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	<-s.done
	c.end(s, outcome, nil)
	return true
}

func (c *Controller) waitSettled(ctx context.Context) error {
	c.mu.Lock()
	ch := c.settled
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) report(r Report) {
	if c.onEnd != nil {
		c.onEnd(r)
	}
}

// hasContentLocked reports whether the session has something to submit.
func (c *Controller) hasContentLocked(s *session) bool {
	if s.transcriptLocked() != "" {
		return true
	}
	return c.mode == ModeAudio && s.speechDetected && len(s.audio) > 0
}

func (c *Controller) utteranceLocked(s *session) Utterance {
	u := Utterance{
		SessionID:  s.id,
		Text:       s.transcriptLocked(),
		SampleRate: s.sampleRate,
	}
	if c.mode == ModeAudio && s.speechDetected {
		u.Audio = append([]float32(nil), s.audio...)
	}
	return u
}

func (c *Controller) appendAudioLocked(s *session, mono []float32) {
	if c.maxUtterance > 0 && s.sampleRate > 0 {
		limit := int(c.maxUtterance.Seconds() * float64(s.sampleRate))
		if len(s.audio)+len(mono) > limit {
			if room := limit - len(s.audio); room > 0 {
				s.audio = append(s.audio, mono[:room]...)
			}
			if !s.truncated {
				s.truncated = true
				slog.Warn("speech: utterance audio capped", "session_id", s.id, "max", c.maxUtterance)
			}
			return
		}
	}
	s.audio = append(s.audio, mono...)
}
