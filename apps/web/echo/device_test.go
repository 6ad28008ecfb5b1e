package echoweb

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-dashboard/storage/memory"
)

func freezeClock(t *testing.T, at *time.Time) {
	prev := nowFunc
	nowFunc = func() time.Time { return *at }
	t.Cleanup(func() { nowFunc = prev })
}

func TestServer_EvictIdleDevices(t *testing.T) {
	now := time.Now()
	freezeClock(t, &now)
	srv := newServer(t, memory.NewDB(), newFakeAPI(t))

	// cookie-less clients each get a device
	for i := 0; i < 50; i++ {
		newBrowser(t, srv).do(http.MethodGet, "/login")
	}
	teacher := newBrowser(t, srv)
	teacher.login("teacher")
	assert.Equal(t, 51, srv.devices.len())

	now = now.Add(anonymousIdleTTL - time.Second)
	assert.Equal(t, 0, srv.EvictIdleDevices(), "nothing is idle yet")

	now = now.Add(2 * time.Second)
	assert.Equal(t, 50, srv.EvictIdleDevices(), "idle anonymous devices go first")
	assert.Equal(t, 1, srv.devices.len())

	// a request keeps the device alive
	decodeView(t, teacher.do(http.MethodGet, "/teacher"))
	now = now.Add(conf.Server.DeviceCookieTTL - time.Minute)
	assert.Equal(t, 0, srv.EvictIdleDevices())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, srv.EvictIdleDevices())
	assert.Equal(t, 0, srv.devices.len())
}

func TestServer_evictedDeviceIsRebuiltFromItsStore(t *testing.T) {
	now := time.Now()
	freezeClock(t, &now)
	srv := newServer(t, memory.NewDB(), newFakeAPI(t))
	b := newBrowser(t, srv)
	b.login("student")

	now = now.Add(conf.Server.DeviceCookieTTL / 2)
	decodeView(t, b.do(http.MethodGet, "/student"))
	now = now.Add(anonymousIdleTTL)
	// logged-in devices outlive anonymous ones
	assert.Equal(t, 0, srv.EvictIdleDevices())

	srv.devices.mutex.Lock()
	for _, entry := range srv.devices.entries {
		entry.lastSeen = now.Add(-conf.Server.DeviceCookieTTL)
	}
	srv.devices.mutex.Unlock()
	assert.Equal(t, 1, srv.EvictIdleDevices())

	vm := decodeView(t, b.do(http.MethodGet, "/student"))
	assert.Equal(t, "Student", vm.Session.User.Name)
	assert.Equal(t, 1, srv.devices.len())
}
