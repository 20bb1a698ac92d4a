package gql

// Top-level result fields of the queries below. These double as the cache
// category keys used by the polestar package.
const (
	KeyCarInfo    = "getConsumerCarsV2"
	KeyTelematics = "carTelematicsV2"
	KeyCarImages  = "getCarImages"
)

// Operation names, passed alongside the documents.
const (
	OpConsumerCars = "GetConsumerCarsV2"
	OpTelematics   = "CarTelematicsV2"
	OpCarImages    = "GetCarImages"
)

// QueryConsumerCars retrieves the account's vehicle inventory with the
// fields required by the typed records.
const QueryConsumerCars = `
query GetConsumerCarsV2 {
    getConsumerCarsV2 {
        vin
        internalVehicleIdentifier
        registrationNo
        registrationDate
        factoryCompleteDate
        content {
            model { name }
            specification {
                battery
                torque
            }
        }
        software {
            version
            versionTimestamp
        }
    }
}
`

// QueryConsumerCarsVerbose is the richer inventory query selected by the
// CLI's --verbose flag. It additionally carries the image lookup keys
// (pno34, structureWeek, modelYear) and specification detail.
const QueryConsumerCarsVerbose = `
query GetConsumerCarsV2 {
    getConsumerCarsV2 {
        vin
        internalVehicleIdentifier
        salesType
        market
        originalMarket
        pno34
        modelYear
        registrationNo
        metaOrderNumber
        factoryCompleteDate
        registrationDate
        deliveryDate
        content {
            exterior { code name description excluded }
            interior { code name description excluded }
            wheels { code name description excluded }
            motor { name description excluded }
            model { name code }
            specification {
                battery
                bodyType
                brakes
                electricMotors
                performance
                suspension
                tireSizes
                torque
                totalHp
                totalKw
                trunkCapacity { label value }
            }
            dimensions {
                wheelbase { label value }
                dimensions { label value }
            }
        }
        primaryDriver
        wltpNedcData {
            wltpCO2Unit
            wltpElecEnergyConsumption
            wltpElecEnergyUnit
            wltpElecRange
            wltpElecRangeUnit
        }
        energy {
            elecRange
            elecRangeUnit
            elecEnergyConsumption
            elecEnergyUnit
        }
        fuelType
        drivetrain
        numberOfDoors
        numberOfSeats
        motor { description code }
        maxTrailerWeight { value unit }
        curbWeight { value unit }
        transmission
        numberOfGears
        structureWeek
        software {
            version
            versionTimestamp
        }
        edition
        commonStatusPoint { code timestamp description }
        brandStatus { code timestamp description }
        features {
            type
            code
            name
            description
            excluded
            galleryImage { url alt }
            thumbnail { url alt }
        }
        electricalEngineNumbers { number placement }
    }
}
`

// QueryTelematics retrieves the combined health/battery/odometer state for
// a set of VINs.
const QueryTelematics = `
query CarTelematicsV2($vins: [String!]!) {
    carTelematicsV2(vins: $vins) {
        health {
            vin
            brakeFluidLevelWarning
            daysToService
            distanceToServiceKm
            engineCoolantLevelWarning
            oilLevelWarning
            serviceWarning
            timestamp { seconds nanos }
        }
        battery {
            vin
            batteryChargeLevelPercentage
            chargingStatus
            estimatedChargingTimeToFullMinutes
            estimatedDistanceToEmptyKm
            timestamp { seconds nanos }
        }
        odometer {
            vin
            odometerMeters
            timestamp { seconds nanos }
        }
    }
}
`

// QueryCarImages retrieves studio imagery for a vehicle, keyed by the
// product code, structure week and model year from the inventory payload.
// Served by the public API (x-api-key authentication).
const QueryCarImages = `
query GetCarImages($pno34: String!, $structureWeek: Int!, $modelYear: String!) {
    getCarImages(pno34: $pno34, structureWeek: $structureWeek, modelYear: $modelYear) {
        transparent { url angle }
        opaque { url angle }
    }
}
`
