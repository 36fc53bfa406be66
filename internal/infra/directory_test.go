package infra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"address-key-service/internal/domain"
)

func newTestDirectory(t *testing.T, handler http.HandlerFunc) *DirectoryClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDirectoryClient(srv.URL+"/", "uid-1", "access-token", 5*time.Second)
}

func TestDirectoryClient_GetAddresses(t *testing.T) {
	c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/core/v4/addresses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-pm-uid") != "uid-1" {
			t.Errorf("want uid header, got %q", r.Header.Get("x-pm-uid"))
		}
		if r.Header.Get("Authorization") != "Bearer access-token" {
			t.Errorf("want bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"Code":1000,"Addresses":[
			{"ID":"addr-1","Email":"alice@example.com","Status":1,"Order":2,"Keys":[
				{"ID":"k1","PrivateKey":"armored","Token":"tok","Signature":"sig","Primary":1,"Active":1,"Flags":3},
				{"ID":"k2","PrivateKey":"armored2","Token":null,"Signature":null,"Primary":0,"Active":0,"Flags":1}
			]}
		]}`))
	})

	recs, err := c.GetAddresses(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 address, got %d", len(recs))
	}

	rec := recs[0]
	if rec.ID != "addr-1" || rec.Email != "alice@example.com" || rec.Order != 2 || rec.Status != domain.AddressStatusEnabled {
		t.Errorf("unexpected address: %+v", rec)
	}
	if len(rec.Keys) != 2 {
		t.Fatalf("want 2 keys, got %d", len(rec.Keys))
	}

	k1 := rec.Keys[0]
	if !k1.Active || !k1.Primary || k1.Token != "tok" || k1.Signature != "sig" {
		t.Errorf("unexpected key: %+v", k1)
	}
	if !k1.Flags.Has(domain.KeyFlagNotCompromised | domain.KeyFlagNotObsolete) {
		t.Errorf("want both flags, got %d", k1.Flags)
	}

	k2 := rec.Keys[1]
	if k2.Active || k2.Primary || k2.Token != "" || k2.Signature != "" {
		t.Errorf("unexpected key: %+v", k2)
	}
}

func TestDirectoryClient_GetAddress_NotFound(t *testing.T) {
	c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"Code":2501,"Error":"Address does not exist"}`))
	})

	_, err := c.GetAddress(context.Background(), "missing")
	if !errors.Is(err, domain.ErrAddressNotFound) {
		t.Errorf("want ErrAddressNotFound, got %v", err)
	}
}

func TestDirectoryClient_GetUser(t *testing.T) {
	c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/core/v4/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"Code":1000,"User":{"ID":"user-1","Name":"alice","Keys":[
			{"ID":"uk1","PrivateKey":"armored","Primary":1,"Active":1}
		]}}`))
	})

	user, err := c.GetUser(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "user-1" || len(user.Keys) != 1 || !user.Keys[0].Primary || !user.Keys[0].Active {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestDirectoryClient_GetActivePublicKeys(t *testing.T) {
	c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/core/v4/keys" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("Email") != "bob@example.com" {
			t.Errorf("unexpected email query %q", r.URL.Query().Get("Email"))
		}
		w.Write([]byte(`{"Code":1000,"Keys":[{"PublicKey":"pub1","Flags":3},{"PublicKey":"pub2","Flags":0}]}`))
	})

	recs, err := c.GetActivePublicKeys(context.Background(), "bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 keys, got %d", len(recs))
	}
	if recs[0].PublicKey != "pub1" || recs[0].Flags != 3 || recs[1].Flags != 0 {
		t.Errorf("unexpected keys: %+v", recs)
	}
}

func TestDirectoryClient_GetActivePublicKeys_Unknown(t *testing.T) {
	for _, code := range []string{"33102", "33103"} {
		t.Run(code, func(t *testing.T) {
			c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"Code":` + code + `,"Error":"Address does not exist"}`))
			})

			_, err := c.GetActivePublicKeys(context.Background(), "nobody@example.com")
			if !errors.Is(err, domain.ErrAddressUnknown) {
				t.Errorf("want ErrAddressUnknown, got %v", err)
			}
		})
	}
}

func TestDirectoryClient_ServerError(t *testing.T) {
	c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.GetAddresses(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("want status 502, got %d", apiErr.Status)
	}
}

func TestDirectoryClient_Cancelled(t *testing.T) {
	c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Code":1000,"Addresses":[]}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.GetAddresses(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestDirectoryClient_GetActivePublicKeys_WideFlags(t *testing.T) {
	c := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Code":1000,"Keys":[{"PublicKey":"pub1","Flags":259},{"PublicKey":"pub2","Flags":256}]}`))
	})

	recs, err := c.GetActivePublicKeys(context.Background(), "bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 keys, got %d", len(recs))
	}
	if recs[0].Flags != domain.KeyFlagNotCompromised|domain.KeyFlagNotObsolete || recs[1].Flags != 0 {
		t.Errorf("want unknown bits dropped, got %+v", recs)
	}
}
