package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

func TestNewExecuteRequestWireShape(t *testing.T) {
	env, err := NewExecuteRequest("req-1", "sess-1", "print(1)")
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	header := wire["header"].(map[string]any)
	assert.Equal(t, "req-1", header["msg_id"])
	assert.Equal(t, "", header["username"])
	assert.Equal(t, "sess-1", header["session"])
	assert.Equal(t, "execute_request", header["msg_type"])

	assert.Equal(t, map[string]any{}, wire["metadata"])
	assert.Equal(t, map[string]any{}, wire["parent_header"])
	_, hasTop := wire["msg_type"]
	assert.False(t, hasTop, "top-level msg_type should be omitted on outbound requests")

	content := wire["content"].(map[string]any)
	assert.Equal(t, "print(1)", content["code"])
	assert.Equal(t, false, content["silent"])
	assert.Equal(t, false, content["allow_stdin"])
	assert.Equal(t, map[string]any{"_sagecell_files": "sys._sage_.new_files()"}, content["user_expressions"])
}

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, msg Message)
	}{
		{
			name: "stream",
			raw:  `{"header":{"msg_type":"stream"},"parent_header":{"msg_id":"r1"},"content":{"name":"stdout","text":"4\n"}}`,
			check: func(t *testing.T, msg Message) {
				s, ok := msg.(*Stream)
				require.True(t, ok, "got %T", msg)
				assert.Equal(t, "r1", s.ParentID())
				assert.Equal(t, "stdout", s.Name)
				assert.Equal(t, "4\n", s.Text)
			},
		},
		{
			name: "display_data image",
			raw:  `{"header":{"msg_type":"display_data"},"parent_header":{"msg_id":"r2"},"content":{"data":{"text/image-filename":"plot.png","text/plain":"Graphics object"}}}`,
			check: func(t *testing.T, msg Message) {
				d, ok := msg.(*DisplayData)
				require.True(t, ok, "got %T", msg)
				name, ok := d.ImageFilename()
				assert.True(t, ok)
				assert.Equal(t, "plot.png", name)
				_, ok = d.HTML()
				assert.False(t, ok)
			},
		},
		{
			name: "display_data html as string array",
			raw:  `{"header":{"msg_type":"display_data"},"parent_header":{"msg_id":"r2"},"content":{"data":{"text/html":["<b>", "x</b>"]}}}`,
			check: func(t *testing.T, msg Message) {
				d := msg.(*DisplayData)
				html, ok := d.HTML()
				assert.True(t, ok)
				assert.Equal(t, "<b>x</b>", html)
			},
		},
		{
			name: "error",
			raw:  `{"header":{"msg_type":"error"},"parent_header":{"msg_id":"r3"},"content":{"ename":"NameError","evalue":"name 'x' is not defined","traceback":["tb"]}}`,
			check: func(t *testing.T, msg Message) {
				e, ok := msg.(*Error)
				require.True(t, ok, "got %T", msg)
				assert.Equal(t, "NameError", e.Name)
				assert.Equal(t, "name 'x' is not defined", e.Value)
				assert.Equal(t, []string{"tb"}, e.Traceback)
			},
		},
		{
			name: "execute_reply",
			raw:  `{"header":{"msg_type":"execute_reply"},"parent_header":{"msg_id":"r4"},"content":{"status":"ok","execution_count":3}}`,
			check: func(t *testing.T, msg Message) {
				r, ok := msg.(*ExecuteReply)
				require.True(t, ok, "got %T", msg)
				assert.True(t, r.OK())
				assert.Equal(t, 3, r.ExecutionCount)
			},
		},
		{
			name: "execute_result",
			raw:  `{"header":{"msg_type":"execute_result"},"parent_header":{"msg_id":"r5"},"content":{"execution_count":1,"data":{"text/plain":"4"}}}`,
			check: func(t *testing.T, msg Message) {
				r, ok := msg.(*ExecuteResult)
				require.True(t, ok, "got %T", msg)
				text, ok := r.Plain()
				assert.True(t, ok)
				assert.Equal(t, "4", text)
			},
		},
		{
			name: "status",
			raw:  `{"header":{"msg_type":"status"},"parent_header":{"msg_id":"r6"},"content":{"execution_state":"idle"}}`,
			check: func(t *testing.T, msg Message) {
				s, ok := msg.(*Status)
				require.True(t, ok, "got %T", msg)
				assert.Equal(t, "idle", s.ExecutionState)
			},
		},
		{
			name: "unknown type is preserved",
			raw:  `{"header":{"msg_type":"comm_open"},"parent_header":{"msg_id":"r7"},"content":{"comm_id":"c"}}`,
			check: func(t *testing.T, msg Message) {
				u, ok := msg.(*Unknown)
				require.True(t, ok, "got %T", msg)
				assert.Equal(t, "comm_open", u.Type())
				assert.JSONEq(t, `{"comm_id":"c"}`, string(u.Content))
			},
		},
		{
			name: "top-level msg_type used when header omits it",
			raw:  `{"header":{},"msg_type":"stream","parent_header":{"msg_id":"r8"},"content":{"name":"stdout","text":"hi"}}`,
			check: func(t *testing.T, msg Message) {
				s, ok := msg.(*Stream)
				require.True(t, ok, "got %T", msg)
				assert.Equal(t, "hi", s.Text)
			},
		},
		{
			name: "header msg_type wins over top-level",
			raw:  `{"header":{"msg_type":"status"},"msg_type":"stream","parent_header":{"msg_id":"r9"},"content":{"execution_state":"busy"}}`,
			check: func(t *testing.T, msg Message) {
				_, ok := msg.(*Status)
				assert.True(t, ok, "got %T", msg)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			tt.check(t, msg)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, sageerrors.IsCode(err, sageerrors.ErrCodeMalformedEnvelope))

	_, err = Decode([]byte(`{"header":{"msg_type":"stream"},"parent_header":{"msg_id":"r1"},"content":{"text":42}}`))
	require.Error(t, err)
	assert.True(t, sageerrors.IsCode(err, sageerrors.ErrCodeMalformedEnvelope))
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec("kernel-abc")
	assert.Equal(t, "kernel-abc/channels,", codec.Prefix())

	env, err := NewExecuteRequest("req-1", "sess-1", "1+1")
	require.NoError(t, err)

	frame, err := codec.Encode(env)
	require.NoError(t, err)
	assert.Equal(t, "kernel-abc/channels,{", frame[:len("kernel-abc/channels,{")])

	payload, err := codec.Payload(frame)
	require.NoError(t, err)

	var back Envelope
	require.NoError(t, json.Unmarshal([]byte(payload), &back))
	assert.Equal(t, "req-1", back.Header.MsgID)
	assert.Equal(t, TypeExecuteRequest, back.Type())
}

func TestCodecPayload(t *testing.T) {
	codec := NewCodec("k1")

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "fixed preamble", raw: `k1/channels,{"a":1}`, want: `{"a":1}`},
		{name: "other channel name", raw: `k1/iopub,{"a":1}`, want: `{"a":1}`},
		{name: "bare json", raw: `{"a":1}`, want: `{"a":1}`},
		{name: "no json", raw: `k1/channels,`, wantErr: true},
		{name: "garbage", raw: `hello`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Payload(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, sageerrors.IsCode(err, sageerrors.ErrCodeMalformedEnvelope))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodecDecode(t *testing.T) {
	codec := NewCodec("k1")
	msg, err := codec.Decode(`k1/channels,{"header":{"msg_type":"stream"},"parent_header":{"msg_id":"r1"},"content":{"name":"stdout","text":"x"}}`)
	require.NoError(t, err)
	assert.Equal(t, "r1", msg.ParentID())
	assert.Equal(t, TypeStream, msg.Type())
}

func TestBundleKeysSorted(t *testing.T) {
	b := Bundle{"text/plain": "a", "text/html": "b", "image/png": "c"}
	assert.Equal(t, []string{"image/png", "text/html", "text/plain"}, b.Keys())
}
