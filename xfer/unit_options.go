// File: xfer/unit_options.go
// Author: momentics <momentics@gmail.com>
//
// Typed option setters and info getters for units.

package xfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-xfer/api"
)

// SetOption sets a transfer option. The value kind must match the option's
// type class; options the unit manages itself are rejected.
func (u *Unit) SetOption(opt api.Option, v api.Value) error {
	if u.xfer == nil {
		return ErrBadHandle
	}
	if opt == api.OptPrivate || opt.Class() == api.ClassFunction {
		return fmt.Errorf("%w: option %d is managed by the unit", ErrBadParam, int(opt))
	}
	if !opt.Class().Accepts(v.Kind()) {
		return fmt.Errorf("%w: option %d takes a %s value, got %s", ErrBadParam, int(opt), opt.Class(), v.Kind())
	}
	if err := u.xfer.SetOption(opt, v); err != nil {
		var code api.ResultCode
		if errors.As(err, &code) && (code == api.ResultUnknownOption || code == api.ResultBadFunctionArgument) {
			return fmt.Errorf("%w: %w", ErrBadParam, err)
		}
		return engineErr("set option", err)
	}
	return nil
}

// Info reads a transfer information field.
func (u *Unit) Info(id api.InfoID) (api.Value, error) {
	if u.xfer == nil {
		return api.Value{}, ErrBadHandle
	}
	want, ok := infoKinds[id.Type()]
	if !ok {
		return api.Value{}, fmt.Errorf("%w: info id %#x has no known type", ErrBadParam, int(id))
	}
	v, err := u.xfer.Info(id)
	if err != nil {
		return api.Value{}, engineErr("get info", err)
	}
	if v.Kind() != want {
		return api.Value{}, fmt.Errorf("%w: info id %#x returned a %s value", ErrInternal, int(id), v.Kind())
	}
	return v, nil
}

var infoKinds = map[api.InfoID]api.Kind{
	api.InfoString: api.KindString,
	api.InfoLong:   api.KindLong,
	api.InfoDouble: api.KindDouble,
	api.InfoList:   api.KindList,
	api.InfoSocket: api.KindSocket,
}

func (u *Unit) SetURL(url string) error { return u.SetOption(api.OptURL, api.String(url)) }

func (u *Unit) SetUserAgent(ua string) error { return u.SetOption(api.OptUserAgent, api.String(ua)) }

// SetCustomRequest overrides the request method.
func (u *Unit) SetCustomRequest(method string) error {
	return u.SetOption(api.OptCustomRequest, api.String(method))
}

// SetHeaders replaces the extra request headers ("Name: value" lines).
func (u *Unit) SetHeaders(headers *api.List) error {
	return u.SetOption(api.OptHTTPHeader, api.ListOf(headers))
}

// SetTimeout bounds the whole transfer; zero disables the limit.
func (u *Unit) SetTimeout(d time.Duration) error {
	return u.SetOption(api.OptTimeoutMS, api.Long(d.Milliseconds()))
}

// SetConnectTimeout bounds the connection phase; zero disables the limit.
func (u *Unit) SetConnectTimeout(d time.Duration) error {
	return u.SetOption(api.OptConnectTimeoutMS, api.Long(d.Milliseconds()))
}

func (u *Unit) SetFollowLocation(on bool) error {
	return u.SetOption(api.OptFollowLocation, api.Bool(on))
}

func (u *Unit) SetVerbose(on bool) error { return u.SetOption(api.OptVerbose, api.Bool(on)) }

// SetNoBody turns the request into a HEAD-style request.
func (u *Unit) SetNoBody(on bool) error { return u.SetOption(api.OptNoBody, api.Bool(on)) }

// SetPostFields sends body as a POST request body.
func (u *Unit) SetPostFields(body []byte) error {
	return u.SetOption(api.OptPostFields, api.Bytes(body))
}

// SetUpload enables an upload of size bytes pulled from the read callback.
func (u *Unit) SetUpload(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative upload size", ErrBadParam)
	}
	if err := u.SetOption(api.OptUpload, api.Bool(true)); err != nil {
		return err
	}
	return u.SetOption(api.OptInFileSize, api.Offset(size))
}

// ResponseCode returns the last received response status.
func (u *Unit) ResponseCode() (int64, error) {
	v, err := u.Info(api.InfoResponseCode)
	return v.Int(), err
}

// EffectiveURL returns the last used URL.
func (u *Unit) EffectiveURL() (string, error) {
	v, err := u.Info(api.InfoEffectiveURL)
	return v.Str(), err
}

// PrimaryIP returns the address of the most recent connection.
func (u *Unit) PrimaryIP() (string, error) {
	v, err := u.Info(api.InfoPrimaryIP)
	return v.Str(), err
}

// TotalTime returns the duration of the previous transfer.
func (u *Unit) TotalTime() (time.Duration, error) {
	v, err := u.Info(api.InfoTotalTime)
	return time.Duration(v.Float() * float64(time.Second)), err
}

// DownloadSize returns the number of body bytes received.
func (u *Unit) DownloadSize() (int64, error) {
	v, err := u.Info(api.InfoSizeDownload)
	return int64(v.Float()), err
}
