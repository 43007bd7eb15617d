package main

import (
	"context"

	"go.uber.org/zap"
)

// Consumer drains mutation-event queues.
type Consumer interface {
	Consume(ctx context.Context, qids ...string) error
}

// replicaConsumer applies book mutation events to a local record store,
// keeping an offline replica of the remote library. Errors on individual
// events are logged and skipped so the replica never blocks the queue.
type replicaConsumer struct {
	logger  *zap.Logger
	queue   Queuer
	replica RecordStore
}

func NewReplicaConsumer(logger *zap.Logger, q Queuer, replica RecordStore) Consumer {
	return &replicaConsumer{logger: logger, queue: q, replica: replica}
}

// Consume pops events until the context is done and mirrors each one
// into the replica's books and membership tables.
func (rc *replicaConsumer) Consume(ctx context.Context, qids ...string) error {
	for {
		qid, book, err := rc.queue.Pop(ctx, qids...)
		if err != nil && ctx.Err() != nil {
			rc.logger.Info("consumer: queue pop call: context is done: exit", zap.String("reason", ctx.Err().Error()))
			return nil
		}
		if err != nil {
			rc.logger.Error("consumer: error on queue pop call", zap.Error(err))
			continue
		}

		switch qid {
		case CreateQueue:
			if err = rc.applyCreate(ctx, book); err != nil {
				rc.logger.Error("consumer: failed to replicate creation", zap.Int64("book.id", book.ID), zap.Error(err))
			}
		case UpdateQueue:
			if err = rc.applyUpdate(ctx, book); err != nil {
				rc.logger.Error("consumer: failed to replicate update", zap.Int64("book.id", book.ID), zap.Error(err))
			}
		case DeleteQueue:
			if err = rc.applyDelete(ctx, book.ID); err != nil {
				rc.logger.Error("consumer: failed to replicate deletion", zap.Int64("book.id", book.ID), zap.Error(err))
			}
		default:
			rc.logger.Warn("consumer: received book event on unknown queue id", zap.String("qid", qid))
		}
	}
}

func (rc *replicaConsumer) applyCreate(ctx context.Context, book Book) error {
	record := book
	record.Bookshelves = nil
	if _, err := rc.replica.Insert(ctx, BooksTable, []Book{record}); err != nil {
		return err
	}
	if len(book.Bookshelves) == 0 {
		return nil
	}
	_, err := rc.replica.Insert(ctx, MembershipTable, MembershipRows(book.ID, book.Bookshelves))
	return err
}

func (rc *replicaConsumer) applyUpdate(ctx context.Context, book Book) error {
	record := book
	record.Bookshelves = nil
	if _, err := rc.replica.Update(ctx, BooksTable, Eq("book_id", book.ID), record); err != nil {
		// the replica may not have seen the creation, upsert instead.
		if _, iErr := rc.replica.Insert(ctx, BooksTable, []Book{record}); iErr != nil {
			return err
		}
	}
	if err := rc.replica.Delete(ctx, MembershipTable, Eq("book_id", book.ID)); err != nil {
		return err
	}
	if len(book.Bookshelves) == 0 {
		return nil
	}
	_, err := rc.replica.Insert(ctx, MembershipTable, MembershipRows(book.ID, book.Bookshelves))
	return err
}

func (rc *replicaConsumer) applyDelete(ctx context.Context, id int64) error {
	if err := rc.replica.Delete(ctx, BooksTable, Eq("book_id", id)); err != nil {
		return err
	}
	return rc.replica.Delete(ctx, MembershipTable, Eq("book_id", id))
}
