package service

import (
	"context"
	"fmt"

	"github.com/yndnr/clustersnap-go/internal/codec"
	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// ServiceSnapshotTaker adds client session records to SnapshotTaker.
type ServiceSnapshotTaker struct {
	*SnapshotTaker
}

// NewServiceSnapshotTaker wraps taker.
func NewServiceSnapshotTaker(taker *SnapshotTaker) *ServiceSnapshotTaker {
	return &ServiceSnapshotTaker{SnapshotTaker: taker}
}

// SnapshotSession writes one client session record. Sessions larger than
// the publication's max payload fail with domain.ErrSessionTooLarge.
func (t *ServiceSnapshotTaker) SnapshotSession(ctx context.Context, s *domain.ClientSession) error {
	rec := codec.NewClientSessionRecord(s)
	if length, limit := rec.EncodedLength(), t.publication.MaxPayloadLength(); length > limit {
		return fmt.Errorf("service: snapshot session: %w",
			domain.ErrSessionTooLarge.WithDetailsf("session %d encoded length %d exceeds %d", s.ID, length, limit))
	}
	if err := t.offer(ctx, rec, "snapshot session"); err != nil {
		return err
	}
	t.metrics.IncSessionWritten()
	return nil
}
