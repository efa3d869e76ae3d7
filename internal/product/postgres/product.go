package postgres

import (
	"gorm.io/gorm"

	productDatamodel "github.com/credmart/credmart/internal/core/datamodel/product"
	"github.com/credmart/credmart/internal/product"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) product.RepositoryAPI {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetAll() ([]*productDatamodel.VirtualProduct, error) {
	var products []*productDatamodel.VirtualProduct
	err := r.db.Order("category ASC, price ASC").Find(&products).Error
	return products, err
}

func (r *ProductRepository) GetByRef(ref string) (*productDatamodel.VirtualProduct, error) {
	var p productDatamodel.VirtualProduct
	err := r.db.Where("ref = ?", ref).First(&p).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
