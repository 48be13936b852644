package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/dm"
)

func TestNewRegister(t *testing.T) {
	m, err := NewRegister(RegisterParams{
		Endpoint: "urn:dev:os:0023C7-000001",
		Lifetime: 86400,
		Objects:  dm.MustParseListing("</3/0>,</1/0>,</0/0>"),
	})
	require.NoError(t, err)

	assert.Equal(t, coap.Confirmable, m.Type)
	assert.Equal(t, coap.POST, m.Code)
	assert.Equal(t, "/rd?lwm2m=1.0&ep=urn:dev:os:0023C7-000001&lt=86400", m.URI())
	assert.Equal(t, "</0/0>,</1/0>,</3/0>", string(m.Payload))
	cf, ok := m.ContentFormat()
	assert.True(t, ok)
	assert.Equal(t, coap.FormatLinkFormat, cf)
	assert.Equal(t, OpRegister, Classify(m))
}

func TestNewRegisterBinding(t *testing.T) {
	m, err := NewRegister(RegisterParams{Endpoint: "ep", Lifetime: 60, Binding: "UQ", Version: "1.1"})
	require.NoError(t, err)
	assert.Equal(t, "/rd?lwm2m=1.1&ep=ep&lt=60&b=UQ", m.URI())

	m, err = NewRegister(RegisterParams{Endpoint: "ep", Lifetime: 60, Binding: "U"})
	require.NoError(t, err)
	assert.Equal(t, "/rd?lwm2m=1.0&ep=ep&lt=60", m.URI())
}

func TestNewRegisterValidation(t *testing.T) {
	_, err := NewRegister(RegisterParams{Lifetime: 60})
	assert.ErrorIs(t, err, ErrMissingEndpoint)

	_, err = NewRegister(RegisterParams{Endpoint: "ep"})
	assert.ErrorIs(t, err, ErrInvalidLifetime)
}

func TestNewUpdate(t *testing.T) {
	m, err := NewUpdate("/rd/5a3f", dm.MustParseListing("</0/0>,</1/0>,</2/0>"))
	require.NoError(t, err)

	assert.Equal(t, coap.POST, m.Code)
	assert.Equal(t, "/rd/5a3f", m.URI())
	assert.Equal(t, "</0/0>,</1/0>,</2/0>", string(m.Payload))
	assert.Equal(t, OpUpdate, Classify(m))

	objs, err := Objects(m)
	require.NoError(t, err)
	assert.Equal(t, 3, objs.Len())

	_, err = NewUpdate("", dm.NewSet())
	assert.ErrorIs(t, err, ErrMissingLocation)
}

func TestNewDeregister(t *testing.T) {
	m, err := NewDeregister("/rd/5a3f")
	require.NoError(t, err)
	assert.Equal(t, coap.DELETE, m.Code)
	assert.Equal(t, "/rd/5a3f", m.URI())
	assert.Empty(t, m.Payload)
	assert.Equal(t, OpDeregister, Classify(m))

	_, err = NewDeregister("")
	assert.ErrorIs(t, err, ErrMissingLocation)
}

func TestRegisteredLocation(t *testing.T) {
	resp := &coap.Message{Type: coap.Acknowledgement, Code: coap.Created}
	_, err := RegisteredLocation(resp)
	assert.ErrorIs(t, err, ErrNoLocation)

	resp.SetLocationPath("/rd/X")
	loc, err := RegisteredLocation(resp)
	require.NoError(t, err)
	assert.Equal(t, "/rd/X", loc)
}

func TestStatusFromCode(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusFromCode(coap.Created))
	assert.Equal(t, StatusSuccess, StatusFromCode(coap.Changed))
	assert.Equal(t, StatusBadRequest, StatusFromCode(coap.BadRequest))
	assert.Equal(t, StatusUnauthorized, StatusFromCode(coap.Unauthorized))
	assert.Equal(t, StatusNotFound, StatusFromCode(coap.NotFound))
	assert.Equal(t, StatusServerError, StatusFromCode(coap.ServiceUnavailable))
	assert.Equal(t, StatusUnexpected, StatusFromCode(coap.MethodNotAllowed))
	assert.Equal(t, "UNAUTHORIZED", StatusUnauthorized.String())
}

func TestOperationSuccessCode(t *testing.T) {
	assert.Equal(t, coap.Created, OpRegister.SuccessCode())
	assert.Equal(t, coap.Changed, OpUpdate.SuccessCode())
	assert.Equal(t, coap.Deleted, OpDeregister.SuccessCode())
	assert.False(t, Operation(9).IsValid())
	assert.Equal(t, "Update", OpUpdate.String())
}
