package fixtures

import (
	"fmt"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
)

var (
	TestDevice1 = model.Device{
		ID:       1,
		DeviceID: "DEVICE-001",
		Name:     "Car Wash North",
		Location: "Lot A",
	}

	TestDevice2 = model.Device{
		ID:       2,
		DeviceID: "DEVICE-002",
		Name:     "Car Wash South",
		Location: "Lot B",
	}
)

func NewTestDevice(deviceID, name, location string) *model.Device {
	return &model.Device{
		DeviceID:  deviceID,
		Name:      name,
		Location:  location,
		CreatedAt: time.Now(),
	}
}

func NewTestChemical(deviceID string, tank int, name string, price float64) *model.Chemical {
	return &model.Chemical{
		DeviceID:   deviceID,
		TankNumber: tank,
		Name:       name,
		Price:      price,
	}
}

func NewTestFlowState(sessionID, deviceID string, stage model.Stage, amount float64) *model.FlowState {
	return &model.FlowState{
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Stage:      stage,
		ChemicalID: 1,
		TankNumber: 1,
		Volume:     500,
		Amount:     amount,
	}
}

func NewTestTransaction(txnID, deviceID string, amount float64) *model.Transaction {
	return &model.Transaction{
		TxnID:    txnID,
		PrvTxnID: fmt.Sprintf("%d0000", time.Now().UnixMilli()),
		DeviceID: deviceID,
		Amount:   amount,
		TxnDate:  time.Now().Format("20060102150405"),
		Status:   model.ResultSuccess,
	}
}

var (
	ValidDeviceIDs = []string{
		"DEVICE-001",
		"DEVICE-002",
		"WASH-42",
		"kiosk-7",
	}

	InvalidTankNumbers = []int{0, -1, 8, 100}

	InvalidVolumes = []float64{0, -1, -500}
)

func CalculateRequestNormal() model.CalculateRequest {
	return model.CalculateRequest{
		DeviceID:   "DEVICE-001",
		TankNumber: 1,
		Volume:     500,
	}
}

func CalculateRequestInvalidTank() model.CalculateRequest {
	return model.CalculateRequest{
		DeviceID:   "DEVICE-001",
		TankNumber: 9,
		Volume:     500,
	}
}

func CheckRequestFor(txnID, deviceID string, sum float64) model.CheckRequest {
	return model.CheckRequest{
		TxnID:   txnID,
		Account: deviceID,
		Sum:     sum,
	}
}

func PayRequestFor(txnID, deviceID string, sum float64) model.PayRequest {
	return model.PayRequest{
		TxnID:   txnID,
		TxnDate: time.Now().Format("20060102150405"),
		Account: deviceID,
		Sum:     sum,
	}
}

func DispensingFilterFor(deviceID string) model.DispensingFilter {
	return model.DispensingFilter{
		DeviceID: deviceID,
		Limit:    10,
		Offset:   0,
	}
}
