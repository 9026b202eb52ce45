// Package directory agrupa las implementaciones de los directorios de
// clientes, usuarios, identity providers y service providers.
package directory

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

// CachedClients envuelve un ClientDirectory con un cache TTL in-process.
// Los lookups concurrentes de la misma key se colapsan con singleflight.
// Solo se cachean resultados exitosos.
type CachedClients struct {
	next  repository.ClientDirectory
	cache *gocache.Cache
	sf    singleflight.Group
}

var _ repository.ClientDirectory = (*CachedClients)(nil)

// NewCachedClients crea el wrapper. ttl <= 0 desactiva el cache (solo singleflight).
func NewCachedClients(next repository.ClientDirectory, ttl time.Duration) *CachedClients {
	c := &CachedClients{next: next}
	if ttl > 0 {
		c.cache = gocache.New(ttl, 2*ttl)
	}
	return c
}

func (c *CachedClients) GetApplication(ctx context.Context, consumerKey string) (*repository.ClientApplication, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(consumerKey); ok {
			app := *v.(*repository.ClientApplication)
			return &app, nil
		}
	}

	v, err, _ := c.sf.Do(consumerKey, func() (interface{}, error) {
		app, err := c.next.GetApplication(ctx, consumerKey)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.SetDefault(consumerKey, app)
		}
		return app, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.New("directory: nil application")
	}
	app := *v.(*repository.ClientApplication)
	return &app, nil
}

// Invalidate descarta la entrada cacheada de un cliente.
func (c *CachedClients) Invalidate(consumerKey string) {
	if c.cache != nil {
		c.cache.Delete(consumerKey)
	}
}
