package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProductID — идентификатор типа товара в каталоге.
type ProductID string

// NewProductID генерирует новый идентификатор.
func NewProductID() ProductID {
	return ProductID(uuid.NewString())
}

// ProductKind — дискриминатор подтипа товара, хранится рядом с каждой записью.
// Иерархия задаётся точками: "product" включает "product.perishable".
type ProductKind string

const (
	// ProductKindBase: корень иерархии, ему присваиваются все записи каталога.
	ProductKindBase ProductKind = "product"
	// ProductKindPerishable: товары с ограниченным сроком годности.
	ProductKindPerishable ProductKind = "product.perishable"
)

var productKindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// Valid проверяет формат дискриминатора.
func (k ProductKind) Valid() bool {
	return productKindPattern.MatchString(string(k))
}

// Includes сообщает, присваиваема ли запись вида other типу k.
func (k ProductKind) Includes(other ProductKind) bool {
	return k == other || strings.HasPrefix(string(other), string(k)+".")
}

// Child строит дочерний вид.
func (k ProductKind) Child(name string) ProductKind {
	return ProductKind(string(k) + "." + name)
}

// ProductType — запись каталога: вид продаваемого товара.
type ProductType struct {
	ID   ProductID
	Kind ProductKind
	Name string
	// Categories хранится как множество: без пробелов по краям, без дублей, отсортировано.
	Categories []string
	Price      Money
	// Metric: единица, в которой товар продаётся и учитывается на складе.
	Metric Metric
	// Attributes: JSON-состояние подтипа; для базового вида пусто.
	Attributes []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewProductType создаёт товар базового вида с новым идентификатором.
func NewProductType(name string, price Money, metric Metric, categories ...string) ProductType {
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := ProductType{
		ID:        NewProductID(),
		Kind:      ProductKindBase,
		Name:      name,
		Price:     price,
		Metric:    metric,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, c := range categories {
		p.AddCategory(c)
	}
	return p
}

// AddCategory добавляет категорию; возвращает false, если она уже есть или пустая.
func (p *ProductType) AddCategory(category string) bool {
	category = strings.TrimSpace(category)
	if category == "" {
		return false
	}
	idx, found := slices.BinarySearch(p.Categories, category)
	if found {
		return false
	}
	p.Categories = slices.Insert(p.Categories, idx, category)
	return true
}

// RemoveCategory удаляет категорию; возвращает false, если её не было.
func (p *ProductType) RemoveCategory(category string) bool {
	idx, found := slices.BinarySearch(p.Categories, strings.TrimSpace(category))
	if !found {
		return false
	}
	p.Categories = slices.Delete(p.Categories, idx, idx+1)
	return true
}

// HasCategory проверяет принадлежность категории.
func (p ProductType) HasCategory(category string) bool {
	_, found := slices.BinarySearch(p.Categories, category)
	return found
}

// NormalizeCategories приводит категории к виду множества.
// Нужен для записей, собранных литералом, а не через AddCategory.
func (p *ProductType) NormalizeCategories() {
	raw := p.Categories
	p.Categories = nil
	for _, c := range raw {
		p.AddCategory(c)
	}
}

// Clone возвращает копию без общих срезов.
func (p ProductType) Clone() ProductType {
	p.Categories = slices.Clone(p.Categories)
	p.Attributes = slices.Clone(p.Attributes)
	return p
}

// Validate проверяет базовые инварианты записи каталога.
func (p *ProductType) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if !p.Kind.Valid() {
		errs = append(errs, ErrProductKindInvalid)
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if !p.Metric.Valid() {
		errs = append(errs, ErrMetricInvalid)
	}

	return errs
}

// PerishableProduct — подтип с ограниченным сроком годности.
type PerishableProduct struct {
	ProductType
	ShelfLife time.Duration
}

type perishableAttributes struct {
	ShelfLifeSeconds int64 `json:"shelf_life_seconds"`
}

// NewPerishableProduct создаёт скоропортящийся товар.
func NewPerishableProduct(name string, price Money, metric Metric, shelfLife time.Duration, categories ...string) PerishableProduct {
	base := NewProductType(name, price, metric, categories...)
	base.Kind = ProductKindPerishable
	return PerishableProduct{ProductType: base, ShelfLife: shelfLife}
}

// EncodePerishable переводит подтип в базовую запись с атрибутами.
func EncodePerishable(p PerishableProduct) (ProductType, error) {
	base := p.ProductType.Clone()
	if base.Kind == "" {
		base.Kind = ProductKindPerishable
	}
	attrs, err := json.Marshal(perishableAttributes{ShelfLifeSeconds: int64(p.ShelfLife / time.Second)})
	if err != nil {
		return ProductType{}, fmt.Errorf("marshal perishable attributes: %w", err)
	}
	base.Attributes = attrs
	return base, nil
}

// DecodePerishable восстанавливает подтип из базовой записи.
func DecodePerishable(base ProductType) (PerishableProduct, error) {
	var attrs perishableAttributes
	if len(base.Attributes) > 0 {
		if err := json.Unmarshal(base.Attributes, &attrs); err != nil {
			return PerishableProduct{}, fmt.Errorf("unmarshal perishable attributes: %w", err)
		}
	}
	return PerishableProduct{
		ProductType: base.Clone(),
		ShelfLife:   time.Duration(attrs.ShelfLifeSeconds) * time.Second,
	}, nil
}

// ProductQuery — предикат выборки из каталога. Пустые поля не фильтруют.
type ProductQuery struct {
	// Kind ограничивает выборку поддеревом видов.
	Kind ProductKind
	// NamePattern: шаблон с семантикой SQL LIKE (% и _).
	NamePattern string
	Category    string
}
