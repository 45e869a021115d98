package models

import (
	"log"

	"bitbucket.org/mmdatafocus/fulfillment_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&StockLocation{}, &StockLevel{},
		&InventoryMovement{},
		&Reservation{},
		&FulfillmentSettings{},
		&Quotation{}, &QuotationDetail{},
		&Invoice{}, &InvoiceDetail{},
		&ReadinessList{}, &ReadinessListItem{},
		&Challan{}, &ChallanLineItem{}, &ChallanStatusEvent{},
		&ChallanNumberSeries{},
		&DispatchEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
