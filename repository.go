package orm

import "context"

// Repository is the typed surface over an EntityProvider for one entity type.
type Repository[T any] struct {
	provider EntityProvider
	entity   *Entity[T]
	mapping  Mapping
}

// NewRepository derives the entity descriptor of T by convention.
func NewRepository[T any](p EntityProvider) (*Repository[T], error) {
	e, err := EntityOf[T]()
	if err != nil {
		return nil, err
	}
	return NewRepositoryWith(p, e), nil
}

// NewRepositoryWith uses an explicitly described entity.
func NewRepositoryWith[T any](p EntityProvider, e *Entity[T]) *Repository[T] {
	return &Repository[T]{provider: p, entity: e, mapping: e.Mapping()}
}

func (r *Repository[T]) Provider() EntityProvider { return r.provider }

func (r *Repository[T]) Entity() *Entity[T] { return r.entity }

// GetByID returns nil, nil when no row matches.
func (r *Repository[T]) GetByID(ctx context.Context, id interface{}) (*T, error) {
	rec, found, err := r.provider.GetByID(ctx, r.mapping, id)
	if err != nil || !found {
		return nil, err
	}
	v, err := r.entity.FromRecord(rec)
	if err != nil {
		return nil, WrapSelectError(err, r.mapping.Table)
	}
	return &v, nil
}

func (r *Repository[T]) GetAll(ctx context.Context) ([]T, error) {
	recs, err := r.provider.GetAll(ctx, r.mapping)
	if err != nil {
		return nil, err
	}
	return r.entity.FromRecords(recs)
}

func (r *Repository[T]) Find(ctx context.Context, cond *Condition) ([]T, error) {
	recs, err := r.provider.Find(ctx, r.mapping, cond)
	if err != nil {
		return nil, err
	}
	return r.entity.FromRecords(recs)
}

func (r *Repository[T]) Add(ctx context.Context, v *T) error {
	return r.provider.Add(ctx, r.mapping, r.entity.Record(v))
}

func (r *Repository[T]) AddRange(ctx context.Context, vs []T) error {
	return r.provider.AddRange(ctx, r.mapping, r.entity.Records(vs))
}

func (r *Repository[T]) Update(ctx context.Context, v *T) error {
	return r.provider.Update(ctx, r.mapping, r.entity.Record(v))
}

func (r *Repository[T]) UpdateRange(ctx context.Context, vs []T) error {
	return r.provider.UpdateRange(ctx, r.mapping, r.entity.Records(vs))
}

func (r *Repository[T]) Delete(ctx context.Context, v *T) error {
	return r.provider.Delete(ctx, r.mapping, r.entity.Record(v))
}

func (r *Repository[T]) DeleteRange(ctx context.Context, vs []T) error {
	return r.provider.DeleteRange(ctx, r.mapping, r.entity.Records(vs))
}
