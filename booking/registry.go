/*
registry.go - Product and warehouse record stores

PURPOSE:
  The engine's reference data. Products carry the configured fleet
  capacity; warehouses exist as scoping keys for bookings and grids.
  Stores implement these next to the ledger interfaces so one backend
  serves the whole engine.

SEE ALSO:
  - ledger.go: CapacitySource, which stores typically answer from the
    same product table
*/
package booking

import "context"

// ProductStore persists product records and their fleet capacities.
type ProductStore interface {
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, companyID CompanyID, id ProductID) (*Product, error)
	ListProducts(ctx context.Context, companyID CompanyID) ([]Product, error)
}

// WarehouseStore persists warehouse records.
type WarehouseStore interface {
	SaveWarehouse(ctx context.Context, w Warehouse) error
	GetWarehouse(ctx context.Context, companyID CompanyID, id WarehouseID) (*Warehouse, error)
	ListWarehouses(ctx context.Context, companyID CompanyID) ([]Warehouse, error)
}
