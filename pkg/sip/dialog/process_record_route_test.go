package dialog

import (
	"testing"

	"github.com/arzzra/voicecore/pkg/sip/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDialog(isUAC bool) *sipDialog {
	key := DialogKey{
		CallID:    "test-call-id",
		LocalTag:  "local-tag",
		RemoteTag: "remote-tag",
	}
	localURI := types.NewSipURI("local", "example.com")
	remoteURI := types.NewSipURI("remote", "example.com")
	return NewDialog(key, isUAC, localURI, remoteURI, &MockTransactionManager{})
}

func TestProcessRecordRoute(t *testing.T) {
	tests := []struct {
		name         string
		isUAC        bool
		recordRoutes []string
		expectedURIs []string
		expectError  bool
	}{
		{
			name:  "UAC with single Record-Route",
			isUAC: true,
			recordRoutes: []string{
				"<sip:proxy1.example.com;lr>",
			},
			expectedURIs: []string{
				"sip:proxy1.example.com;lr",
			},
		},
		{
			name:  "UAC with multiple Record-Routes",
			isUAC: true,
			recordRoutes: []string{
				"<sip:proxy1.example.com;lr>, <sip:proxy2.example.com;lr>",
			},
			expectedURIs: []string{
				"sip:proxy1.example.com;lr",
				"sip:proxy2.example.com;lr",
			},
		},
		{
			name:  "UAC with separate Record-Route headers",
			isUAC: true,
			recordRoutes: []string{
				"<sip:proxy1.example.com;lr>",
				"<sip:proxy2.example.com;lr>",
				"<sip:proxy3.example.com;lr>",
			},
			expectedURIs: []string{
				"sip:proxy1.example.com;lr",
				"sip:proxy2.example.com;lr",
				"sip:proxy3.example.com;lr",
			},
		},
		{
			name:  "UAS with multiple Record-Routes (reversed)",
			isUAC: false,
			recordRoutes: []string{
				"<sip:proxy1.example.com;lr>, <sip:proxy2.example.com;lr>",
			},
			expectedURIs: []string{
				"sip:proxy2.example.com;lr",
				"sip:proxy1.example.com;lr",
			},
		},
		{
			name:  "UAS with separate headers (reversed)",
			isUAC: false,
			recordRoutes: []string{
				"<sip:proxy1.example.com;lr>",
				"<sip:proxy2.example.com;lr>",
				"<sip:proxy3.example.com;lr>",
			},
			expectedURIs: []string{
				"sip:proxy3.example.com;lr",
				"sip:proxy2.example.com;lr",
				"sip:proxy1.example.com;lr",
			},
		},
		{
			name:  "Record-Route with display name",
			isUAC: true,
			recordRoutes: []string{
				"\"Proxy Server\" <sip:proxy.example.com;lr>",
			},
			expectedURIs: []string{
				"sip:proxy.example.com;lr",
			},
		},
		{
			name:  "Record-Route with parameters",
			isUAC: true,
			recordRoutes: []string{
				"<sip:proxy.example.com;lr;ftag=123;other=value>",
			},
			expectedURIs: []string{
				"sip:proxy.example.com;lr;ftag=123;other=value",
			},
		},
		{
			name:         "Empty Record-Route headers",
			isUAC:        true,
			recordRoutes: []string{},
			expectedURIs: []string{},
		},
		{
			name:  "Record-Route with IPv6",
			isUAC: true,
			recordRoutes: []string{
				"<sip:[2001:db8::1];lr>",
			},
			expectedURIs: []string{
				"sip:[2001:db8::1];lr",
			},
		},
		{
			name:  "Record-Route with port",
			isUAC: true,
			recordRoutes: []string{
				"<sip:proxy.example.com:5061;lr>",
			},
			expectedURIs: []string{
				"sip:proxy.example.com:5061;lr",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dlg := newTestDialog(tt.isUAC)

			resp := types.NewResponse(200, "OK")
			resp.SetHeader(types.HeaderCSeq, "1 INVITE")

			for _, rr := range tt.recordRoutes {
				resp.AddHeader(types.HeaderRecordRoute, rr)
			}

			err := dlg.ProcessRecordRoute(resp)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)

			routeSet := dlg.RouteSet()
			assert.Len(t, routeSet, len(tt.expectedURIs))

			for i, expectedURI := range tt.expectedURIs {
				assert.Equal(t, expectedURI, routeSet[i].String())
			}
		})
	}
}

func TestProcessRecordRoute_OnlyOnce(t *testing.T) {
	dlg := newTestDialog(true)

	resp1 := types.NewResponse(200, "OK")
	resp1.SetHeader(types.HeaderCSeq, "1 INVITE")
	resp1.AddHeader(types.HeaderRecordRoute, "<sip:proxy1.example.com;lr>")

	err := dlg.ProcessRecordRoute(resp1)
	require.NoError(t, err)
	routeSet := dlg.RouteSet()
	assert.Len(t, routeSet, 1)
	assert.Equal(t, "sip:proxy1.example.com;lr", routeSet[0].String())

	resp2 := types.NewResponse(200, "OK")
	resp2.SetHeader(types.HeaderCSeq, "2 INVITE")
	resp2.AddHeader(types.HeaderRecordRoute, "<sip:proxy2.example.com;lr>")

	err = dlg.ProcessRecordRoute(resp2)
	require.NoError(t, err)

	routeSet = dlg.RouteSet()
	assert.Len(t, routeSet, 1)
	assert.Equal(t, "sip:proxy1.example.com;lr", routeSet[0].String())
}

func TestProcessRecordRoute_ComplexScenario(t *testing.T) {
	dlg := newTestDialog(true)

	resp := types.NewResponse(200, "OK")
	resp.SetHeader(types.HeaderCSeq, "1 INVITE")

	resp.AddHeader(types.HeaderRecordRoute, "<sip:outbound-proxy.caller.com;lr>")
	resp.AddHeader(types.HeaderRecordRoute, "<sip:core-proxy.network.com;lr>, <sip:edge-proxy.network.com;lr>")
	resp.AddHeader(types.HeaderRecordRoute, "<sip:inbound-proxy.callee.com;lr>")

	err := dlg.ProcessRecordRoute(resp)
	require.NoError(t, err)

	expectedRoutes := []string{
		"sip:outbound-proxy.caller.com;lr",
		"sip:core-proxy.network.com;lr",
		"sip:edge-proxy.network.com;lr",
		"sip:inbound-proxy.callee.com;lr",
	}

	routeSet := dlg.RouteSet()
	assert.Len(t, routeSet, len(expectedRoutes))
	for i, expected := range expectedRoutes {
		assert.Equal(t, expected, routeSet[i].String())
	}
}

func TestUpdateFromResponse_IntegrationWithProcessRecordRoute(t *testing.T) {
	dlg := newTestDialog(true)
	dlg.stateMachine.TransitionTo(DialogStateTrying)
	dlg.stateMachine.TransitionTo(DialogStateRinging)

	resp := types.NewResponse(200, "OK")
	resp.SetHeader(types.HeaderCSeq, "1 INVITE")
	resp.AddHeader(types.HeaderRecordRoute, "<sip:proxy1.example.com;lr>, <sip:proxy2.example.com;lr>")
	resp.SetHeader(types.HeaderContact, "<sip:bob@192.168.1.100:5060>")

	err := dlg.updateFromResponse(resp, types.MethodINVITE)
	require.NoError(t, err)

	routeSet := dlg.RouteSet()
	assert.Len(t, routeSet, 2)
	assert.Equal(t, "sip:proxy1.example.com;lr", routeSet[0].String())
	assert.Equal(t, "sip:proxy2.example.com;lr", routeSet[1].String())
}
