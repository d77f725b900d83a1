// File: engine/exchange.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One HTTP/1.0 request/response over a dedicated connection:
// connect, send head and body, receive head and body, follow redirects.

package engine

import (
	"bytes"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-xfer/api"
)

type phase int

const (
	phaseConnecting phase = iota
	phaseSending
	phaseReceiving
	phaseDone
)

const maxHeadBytes = 64 * 1024

type exchange struct {
	m *Multi
	t *Transfer

	phase    phase
	fd       int
	sock     api.Socket
	interest api.PollInterest
	host     string
	url      *url.URL

	started         time.Time
	deadline        time.Time
	connectDeadline time.Time
	redirects       int

	method     string
	body       []byte
	headOnly   bool
	upload     bool
	uploadSize int64
	uploaded   int64
	uploadDone bool
	out        []byte

	buf           []byte
	head          []byte
	statusSeen    bool
	headersDone   bool
	contentLength int64
	received      int64
	location      string
	follow        bool
	stash         []byte
}

func newExchange(m *Multi, t *Transfer) *exchange {
	now := m.e.clock.Now()
	ex := &exchange{m: m, t: t, fd: -1, started: now, uploadSize: -1, contentLength: -1}
	if ms, ok := t.num(api.OptTimeoutMS); ok && ms > 0 {
		ex.deadline = now.Add(time.Duration(ms) * time.Millisecond)
	}
	size := int64(defaultBufferSize)
	if n, ok := t.num(api.OptBufferSize); ok && n > 0 {
		size = n
	}
	ex.buf = m.e.bufs.Get(int(size))

	ex.method = "GET"
	if pf, ok := t.opts[api.OptPostFields]; ok {
		ex.method = "POST"
		ex.body = postBody(pf)
	}
	if t.flag(api.OptPost) && ex.body == nil {
		ex.method = "POST"
		ex.upload = true
	}
	if t.flag(api.OptUpload) {
		ex.method = "PUT"
		ex.upload = true
	}
	if ex.upload {
		if n, ok := t.num(api.OptInFileSize); ok && n >= 0 {
			ex.uploadSize = n
		}
	}
	if t.flag(api.OptNoBody) {
		ex.method = "HEAD"
		ex.headOnly = true
		ex.upload = false
		ex.body = nil
	}
	if cr := t.str(api.OptCustomRequest); cr != "" {
		ex.method = cr
	}
	t.info = transferInfo{}
	return ex
}

func postBody(v api.Value) []byte {
	switch v.Kind() {
	case api.KindBytes:
		return v.Bytes()
	case api.KindObject:
		switch b := v.Object().(type) {
		case []byte:
			return append([]byte(nil), b...)
		case string:
			return []byte(b)
		}
	}
	return []byte{}
}

// begin resolves and connects to rawURL.
func (ex *exchange) begin(rawURL string) {
	m, t := ex.m, ex.t
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		m.finish(ex, api.ResultURLMalformat)
		return
	}
	if !strings.EqualFold(u.Scheme, "http") {
		m.finish(ex, api.ResultUnsupportedProtocol)
		return
	}
	port := uint64(80)
	if p := u.Port(); p != "" {
		if port, err = strconv.ParseUint(p, 10, 16); err != nil || port == 0 {
			m.finish(ex, api.ResultURLMalformat)
			return
		}
	}
	if ex.upload && ex.uploadSize < 0 {
		// HTTP/1.0 cannot frame a body of unknown length
		m.finish(ex, api.ResultBadFunctionArgument)
		return
	}
	ex.url = u
	ex.host = u.Host
	t.info.url = u.String()

	addrs, err := m.e.dns.resolve(u.Hostname())
	if err != nil {
		ex.trace(api.DebugText, "Could not resolve host: "+u.Hostname())
		m.log.Debug("resolve failed", zap.String("host", u.Hostname()), zap.Error(err))
		m.finish(ex, api.ResultCouldntResolveHost)
		return
	}
	ap := netip.AddrPortFrom(addrs[0], uint16(port))
	t.info.primaryIP = ap.Addr().String()
	ex.trace(api.DebugText, "Trying "+ap.String())

	fd, err := dial(ap)
	if err != nil {
		m.log.Debug("connect failed", zap.Stringer("addr", ap), zap.Error(err))
		m.finish(ex, api.ResultCouldntConnect)
		return
	}
	ex.fd = fd
	ex.sock = api.Socket(fd)
	ex.phase = phaseConnecting
	ct := defaultConnectTimeout
	if ms, ok := t.num(api.OptConnectTimeoutMS); ok && ms > 0 {
		ct = time.Duration(ms) * time.Millisecond
	}
	ex.connectDeadline = m.e.clock.Now().Add(ct)
	ex.out = ex.request()
	m.register(ex)
}

func (ex *exchange) request() []byte {
	t := ex.t
	user := map[string]bool{}
	var extra []string
	if l, ok := t.opts[api.OptHTTPHeader]; ok {
		for it := l.List().Iter(); it.Next(); {
			line := it.Value()
			name, _, _ := strings.Cut(line, ":")
			user[strings.ToLower(strings.TrimSpace(name))] = true
			extra = append(extra, line)
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.0\r\n", ex.method, ex.url.RequestURI())
	if !user["host"] {
		fmt.Fprintf(&b, "Host: %s\r\n", ex.url.Host)
	}
	if ua := t.str(api.OptUserAgent); ua != "" && !user["user-agent"] {
		fmt.Fprintf(&b, "User-Agent: %s\r\n", ua)
	}
	if !user["content-length"] {
		switch {
		case ex.body != nil:
			fmt.Fprintf(&b, "Content-Length: %d\r\n", len(ex.body))
		case ex.upload:
			fmt.Fprintf(&b, "Content-Length: %d\r\n", ex.uploadSize)
		}
	}
	for _, line := range extra {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	ex.trace(api.DebugHeaderOut, b.Bytes())
	if ex.body != nil {
		ex.trace(api.DebugDataOut, ex.body)
		b.Write(ex.body)
	}
	return b.Bytes()
}

// step handles readiness on the exchange's socket.
func (ex *exchange) step(ready api.ReadyMask) {
	switch ex.phase {
	case phaseConnecting:
		if ready&(api.ReadyOut|api.ReadyErr) == 0 {
			return
		}
		if err := connectError(ex.fd); err != nil {
			ex.m.log.Debug("connect failed", zap.String("host", ex.host), zap.Error(err))
			ex.m.finish(ex, api.ResultCouldntConnect)
			return
		}
		ex.phase = phaseSending
		ex.connectDeadline = time.Time{}
		ex.trace(api.DebugText, "Connected to "+ex.host)
		ex.send()
	case phaseSending:
		if ready&api.ReadyOut != 0 {
			ex.send()
		} else if ready&api.ReadyErr != 0 {
			ex.m.finish(ex, api.ResultSendError)
		}
	case phaseReceiving:
		if ready&(api.ReadyIn|api.ReadyErr) != 0 {
			ex.recv()
		}
	}
}

func (ex *exchange) send() {
	t := ex.t
	for ex.phase == phaseSending {
		if len(ex.out) == 0 {
			if ex.upload && !ex.uploadDone {
				if t.paused&api.PauseSend != 0 {
					ex.sync()
					return
				}
				if !ex.pull() {
					return
				}
				continue
			}
			ex.phase = phaseReceiving
			ex.sync()
			return
		}
		n, err := sysWrite(ex.fd, ex.out, t.flag(api.OptNoSignal))
		if err != nil {
			if wouldBlock(err) {
				ex.sync()
				return
			}
			ex.m.finish(ex, api.ResultSendError)
			return
		}
		ex.out = ex.out[n:]
	}
}

// pull asks the read callback for more upload data. It reports false when
// sending cannot continue right now.
func (ex *exchange) pull() bool {
	t := ex.t
	if ex.uploaded >= ex.uploadSize {
		ex.uploadDone = true
		return true
	}
	if t.read == nil {
		ex.m.finish(ex, api.ResultReadError)
		return false
	}
	chunk := make([]byte, min(int64(len(ex.buf)), ex.uploadSize-ex.uploaded))
	n := t.read(chunk)
	switch {
	case n == api.ReadAbort:
		ex.m.finish(ex, api.ResultAbortedByCallback)
		return false
	case n == api.ReadPause:
		t.paused |= api.PauseSend
		ex.sync()
		return false
	case n < 0 || n > len(chunk):
		ex.m.finish(ex, api.ResultReadError)
		return false
	case n == 0:
		// the callback ran dry before the announced size
		ex.m.finish(ex, api.ResultReadError)
		return false
	}
	ex.uploaded += int64(n)
	ex.out = chunk[:n]
	ex.trace(api.DebugDataOut, ex.out)
	if t.progress != nil && t.progress(0, 0, ex.uploadSize, ex.uploaded) != 0 {
		ex.m.finish(ex, api.ResultAbortedByCallback)
		return false
	}
	return true
}

func (ex *exchange) recv() {
	if ex.t.paused&api.PauseRecv != 0 {
		ex.sync()
		return
	}
	n, err := sysRead(ex.fd, ex.buf)
	if err != nil {
		if wouldBlock(err) {
			return
		}
		ex.m.finish(ex, api.ResultRecvError)
		return
	}
	if n == 0 {
		ex.eof()
		return
	}
	data := ex.buf[:n]
	if ex.headersDone {
		ex.bodyData(data)
		return
	}
	ex.head = append(ex.head, data...)
	for !ex.headersDone {
		i := bytes.IndexByte(ex.head, '\n')
		if i < 0 {
			if len(ex.head) > maxHeadBytes {
				ex.m.finish(ex, api.ResultRecvError)
			}
			return
		}
		line := ex.head[:i+1]
		ex.head = ex.head[i+1:]
		if !ex.headerLine(line) {
			return
		}
	}
	rest := ex.head
	ex.head = nil
	if ex.phase != phaseReceiving {
		return
	}
	if len(rest) > 0 {
		ex.bodyData(rest)
	} else if ex.bodyComplete() {
		ex.complete()
	}
}

// headerLine consumes one response head line; false means the exchange ended.
func (ex *exchange) headerLine(line []byte) bool {
	t := ex.t
	t.info.headerSize += int64(len(line))
	ex.trace(api.DebugHeaderIn, line)
	if t.header != nil && t.header(line) != len(line) {
		ex.m.finish(ex, api.ResultWriteError)
		return false
	}
	text := strings.TrimRight(string(line), "\r\n")
	if !ex.statusSeen {
		code, ok := parseStatus(text)
		if !ok {
			ex.m.finish(ex, api.ResultRecvError)
			return false
		}
		t.info.code = code
		ex.statusSeen = true
		return true
	}
	if text == "" {
		ex.headersDone = true
		if t.flag(api.OptFollowLocation) && ex.location != "" && isRedirect(t.info.code) {
			ex.follow = true
		}
		if ex.headOnly || t.info.code == 204 || t.info.code == 304 {
			ex.contentLength = 0
		}
		return true
	}
	name, value, ok := strings.Cut(text, ":")
	if !ok {
		return true
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "content-length":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			ex.contentLength = n
		}
	case "location":
		ex.location = value
	}
	return true
}

func (ex *exchange) bodyData(data []byte) {
	if ex.follow {
		// redirect bodies are not delivered
		ex.received += int64(len(data))
	} else if ex.t.paused&api.PauseRecv != 0 || len(ex.stash) > 0 {
		ex.stash = append(ex.stash, data...)
		ex.sync()
		return
	} else if !ex.deliver(data) {
		return
	}
	if ex.bodyComplete() {
		ex.complete()
	}
}

// deliver hands data to the write callback; false means delivery stopped.
func (ex *exchange) deliver(data []byte) bool {
	t := ex.t
	ex.trace(api.DebugDataIn, data)
	n := len(data)
	if t.write != nil {
		n = t.write(data)
	}
	if n == api.WritePause {
		ex.stash = append([]byte(nil), data...)
		t.paused |= api.PauseRecv
		ex.sync()
		return false
	}
	if n != len(data) {
		ex.m.finish(ex, api.ResultWriteError)
		return false
	}
	ex.received += int64(n)
	t.info.download += int64(n)
	if t.progress != nil && t.progress(max(ex.contentLength, 0), t.info.download, 0, 0) != 0 {
		ex.m.finish(ex, api.ResultAbortedByCallback)
		return false
	}
	return true
}

// resume continues a direction whose pause was lifted.
func (ex *exchange) resume() {
	t := ex.t
	switch ex.phase {
	case phaseReceiving:
		if t.paused&api.PauseRecv != 0 {
			return
		}
		if len(ex.stash) > 0 {
			data := ex.stash
			ex.stash = nil
			if !ex.deliver(data) {
				return
			}
			if ex.bodyComplete() {
				ex.complete()
				return
			}
		}
		ex.sync()
	case phaseSending:
		if t.paused&api.PauseSend == 0 && ex.interest == api.PollNone {
			ex.send()
		}
	}
}

func (ex *exchange) eof() {
	switch {
	case !ex.statusSeen && len(ex.head) == 0:
		ex.m.finish(ex, api.ResultGotNothing)
	case !ex.headersDone:
		ex.m.finish(ex, api.ResultRecvError)
	case ex.contentLength >= 0 && ex.received < ex.contentLength:
		ex.m.finish(ex, api.ResultPartialFile)
	default:
		ex.complete()
	}
}

func (ex *exchange) bodyComplete() bool {
	return ex.headersDone && ex.contentLength >= 0 && ex.received >= ex.contentLength
}

func (ex *exchange) complete() {
	if !ex.follow || ex.redirects >= maxRedirects {
		ex.m.finish(ex, api.ResultOK)
		return
	}
	next, err := ex.url.Parse(ex.location)
	if err != nil {
		ex.m.finish(ex, api.ResultURLMalformat)
		return
	}
	code := ex.t.info.code
	ex.m.teardown(ex)
	ex.m.log.Debug("following redirect", zap.Int64("code", code), zap.Stringer("to", next))
	ex.trace(api.DebugText, "Following redirect to "+next.String())

	ex.redirects++
	if code != 307 && code != 308 && ex.method != "HEAD" {
		ex.method = "GET"
		ex.body = nil
		ex.upload = false
	}
	ex.out = nil
	ex.head, ex.stash, ex.location = nil, nil, ""
	ex.statusSeen, ex.headersDone, ex.follow = false, false, false
	ex.contentLength, ex.received = -1, 0
	ex.interest = api.PollNone
	ex.uploaded, ex.uploadDone = 0, false
	ex.t.info.code = 0
	ex.begin(next.String())
}

func (ex *exchange) desired() api.PollInterest {
	paused := ex.t.paused
	switch ex.phase {
	case phaseConnecting:
		return api.PollOut
	case phaseSending:
		if paused&api.PauseSend != 0 {
			return api.PollNone
		}
		return api.PollOut
	case phaseReceiving:
		if paused&api.PauseRecv != 0 {
			return api.PollNone
		}
		return api.PollIn
	}
	return api.PollNone
}

// sync reports a changed socket interest.
func (ex *exchange) sync() {
	if ex.fd < 0 || ex.phase == phaseDone {
		return
	}
	if w := ex.desired(); w != ex.interest {
		ex.interest = w
		ex.m.notify(ex, w)
	}
}

func (ex *exchange) expired(now time.Time) bool {
	if !ex.deadline.IsZero() && !now.Before(ex.deadline) {
		return true
	}
	return ex.phase == phaseConnecting && !ex.connectDeadline.IsZero() && !now.Before(ex.connectDeadline)
}

func (ex *exchange) nextDeadline() time.Time {
	d := ex.deadline
	if ex.phase == phaseConnecting && !ex.connectDeadline.IsZero() && (d.IsZero() || ex.connectDeadline.Before(d)) {
		d = ex.connectDeadline
	}
	return d
}

func (ex *exchange) trace(kind api.DebugKind, data any) {
	if !ex.t.verbose() {
		return
	}
	switch d := data.(type) {
	case string:
		ex.t.debug(kind, []byte(d))
	case []byte:
		ex.t.debug(kind, d)
	}
}

func parseStatus(line string) (int64, bool) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return 0, false
	}
	code, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	n, err := strconv.ParseInt(code, 10, 64)
	if err != nil || n < 100 || n > 999 {
		return 0, false
	}
	return n, true
}

func isRedirect(code int64) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
