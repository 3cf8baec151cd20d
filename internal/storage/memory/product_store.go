package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productStore: in-memory реализация ProductStore.
type productStore struct {
	v view
}

// Upsert сохраняет записи пакетом: сначала проверяет все, потом пишет.
// У существующей записи время создания не меняется.
func (s *productStore) Upsert(ctx context.Context, products ...domain.ProductType) error {
	for _, p := range products {
		if p.ID == "" {
			return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, domain.ErrProductIDRequired)
		}
	}
	return s.v.write(ctx, func(st *state) error {
		for _, p := range products {
			record := p.Clone()
			if current, ok := st.products[p.ID]; ok {
				record.CreatedAt = current.CreatedAt
			}
			st.products[p.ID] = record
		}
		return nil
	})
}

// Update заменяет существующую запись; время создания остаётся прежним.
func (s *productStore) Update(ctx context.Context, product domain.ProductType) error {
	return s.v.write(ctx, func(st *state) error {
		current, ok := st.products[product.ID]
		if !ok {
			return domain.ErrProductNotFound
		}
		updated := product.Clone()
		updated.CreatedAt = current.CreatedAt
		st.products[product.ID] = updated
		return nil
	})
}

// Delete удаляет запись и сообщает, была ли она.
func (s *productStore) Delete(ctx context.Context, id domain.ProductID) (bool, error) {
	var existed bool
	err := s.v.write(ctx, func(st *state) error {
		_, existed = st.products[id]
		delete(st.products, id)
		return nil
	})
	return existed, err
}

func (s *productStore) Exists(ctx context.Context, id domain.ProductID) (bool, error) {
	var ok bool
	err := s.v.read(ctx, func(st *state) error {
		_, ok = st.products[id]
		return nil
	})
	return ok, err
}

// Get возвращает копию записи или ErrProductNotFound.
func (s *productStore) Get(ctx context.Context, id domain.ProductID) (domain.ProductType, error) {
	var product domain.ProductType
	err := s.v.read(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		product = p.Clone()
		return nil
	})
	return product, err
}

// Each снимает выборку под блокировкой и вызывает fn уже без неё,
// чтобы обработчик мог обращаться к хранилищу.
func (s *productStore) Each(ctx context.Context, query domain.ProductQuery, fn func(domain.ProductType) bool) error {
	var name *regexp.Regexp
	if query.NamePattern != "" {
		name = compileLike(query.NamePattern)
	}

	var matched []domain.ProductType
	err := s.v.read(ctx, func(st *state) error {
		for _, p := range st.products {
			if query.Kind != "" && !query.Kind.Includes(p.Kind) {
				continue
			}
			if name != nil && !name.MatchString(p.Name) {
				continue
			}
			if query.Category != "" && !p.HasCategory(query.Category) {
				continue
			}
			matched = append(matched, p.Clone())
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})

	for _, p := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(p) {
			return nil
		}
	}
	return nil
}

var _ domain.ProductStore = (*productStore)(nil)
